package main

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeFieldsEmpty(t *testing.T) {
	if got := encodeFields(MessageFields{}); got != "{}" {
		t.Errorf("encodeFields(empty) = %s, want {}", got)
	}
}

func TestEncodeFieldsBase64Shape(t *testing.T) {
	fields := MessageFields{
		FileAttachments: []FileAttachment{{FileName: "notes.txt", FileBytes: []byte("file data")}},
		Image:           &ImageAttachment{ImageType: "png", ImageBytes: []byte{0x89, 0x50}},
	}

	encoded := encodeFields(fields)

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
		t.Fatalf("encoded fields are not valid json: %v", err)
	}
	if !strings.Contains(encoded, `"file_name":"notes.txt"`) {
		t.Errorf("missing file_name in %s", encoded)
	}
	wantBytes := base64.StdEncoding.EncodeToString([]byte("file data"))
	if !strings.Contains(encoded, `"file_bytes":"`+wantBytes+`"`) {
		t.Errorf("file_bytes not base64 encoded in %s", encoded)
	}
	if !strings.Contains(encoded, `"image_type":"png"`) {
		t.Errorf("missing image_type in %s", encoded)
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	fields := MessageFields{
		FileAttachments: []FileAttachment{
			{FileName: "a.txt", FileBytes: []byte("first")},
			{FileName: "b.bin", FileBytes: []byte{0x00, 0x01, 0x02}},
		},
		Image: &ImageAttachment{ImageType: "webp", ImageBytes: []byte("imgdata")},
	}

	var decoded MessageFields
	if err := json.Unmarshal([]byte(encodeFields(fields)), &decoded); err != nil {
		t.Fatalf("decode fields: %v", err)
	}

	if len(decoded.FileAttachments) != 2 {
		t.Fatalf("got %d attachments, want 2", len(decoded.FileAttachments))
	}
	if decoded.FileAttachments[0].FileName != "a.txt" || string(decoded.FileAttachments[0].FileBytes) != "first" {
		t.Errorf("attachment 0 did not round trip: %+v", decoded.FileAttachments[0])
	}
	if decoded.Image == nil || decoded.Image.ImageType != "webp" || string(decoded.Image.ImageBytes) != "imgdata" {
		t.Errorf("image did not round trip: %+v", decoded.Image)
	}
}

func TestRawFields(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty becomes object", "", "{}"},
		{"valid passes through", `{"image":{"image_type":"png","image_bytes":"aGk="}}`, `{"image":{"image_type":"png","image_bytes":"aGk="}}`},
		{"invalid becomes null", "{broken", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(rawFields(tt.input)); got != tt.want {
				t.Errorf("rawFields(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
