package main

import (
	"bytes"
	"testing"
)

// downloadRecorder collects callback outcomes. The fake stack drives every
// callback on the test goroutine, so plain slices are enough.
type downloadRecorder struct {
	successes []DownloadResult
	failures  []string
	progress  []float64
}

func (r *downloadRecorder) callbacks() DownloadCallbacks {
	return DownloadCallbacks{
		OnSuccess:  func(result DownloadResult) { r.successes = append(r.successes, result) },
		OnFailure:  func(reason string) { r.failures = append(r.failures, reason) },
		OnProgress: func(fraction float64) { r.progress = append(r.progress, fraction) },
	}
}

func (r *downloadRecorder) assertOutcome(t *testing.T, successes, failures int) {
	t.Helper()
	if len(r.successes) != successes {
		t.Errorf("successes = %d, want %d", len(r.successes), successes)
	}
	if len(r.failures) != failures {
		t.Errorf("failures = %d, want %d", len(r.failures), failures)
	}
}

func testDestination() []byte {
	return bytes.Repeat([]byte{0xab}, destinationHashLength)
}

func TestDownloadIdentityNotFound(t *testing.T) {
	stack := newFakeStack()
	rec := &downloadRecorder{}

	dl := NewResourceDownloader(stack, testDestination(), "/page/index.mu", ResourcePage, rec.callbacks())
	dl.Start()

	if stack.pathRequestCount() != 1 {
		t.Errorf("path requests = %d, want 1", stack.pathRequestCount())
	}
	if stack.link.requestCount() != 0 {
		t.Errorf("link requests = %d, want 0", stack.link.requestCount())
	}
	rec.assertOutcome(t, 0, 1)
	if rec.failures[0] != "identity not found" {
		t.Errorf("failure reason = %q, want identity not found", rec.failures[0])
	}
}

func TestPageDownloadSuccess(t *testing.T) {
	stack := newFakeStack()
	dest := testDestination()
	stack.addIdentity(dest)
	rec := &downloadRecorder{}

	dl := NewResourceDownloader(stack, dest, "/page/index.mu", ResourcePage, rec.callbacks())
	dl.Start()

	req := stack.link.lastRequest(t)
	if req.path != "/page/index.mu" {
		t.Errorf("request path = %q, want /page/index.mu", req.path)
	}
	if req.timeout != defaultDownloadTimeout {
		t.Errorf("request timeout = %v, want %v", req.timeout, defaultDownloadTimeout)
	}

	req.onProgress(0.25)
	req.onProgress(0.5)
	req.onResponse(RequestResponse{Data: []byte("hello from the node")})

	if len(rec.progress) != 2 || rec.progress[0] != 0.25 || rec.progress[1] != 0.5 {
		t.Errorf("progress = %v, want [0.25 0.5]", rec.progress)
	}
	rec.assertOutcome(t, 1, 0)
	result := rec.successes[0]
	if result.Kind != ResourcePage {
		t.Errorf("result kind = %s, want %s", result.Kind, ResourcePage)
	}
	if result.Content != "hello from the node" {
		t.Errorf("result content = %q", result.Content)
	}
}

func TestFileDownloadSuccess(t *testing.T) {
	stack := newFakeStack()
	dest := testDestination()
	stack.addIdentity(dest)
	rec := &downloadRecorder{}

	dl := NewResourceDownloader(stack, dest, "/file/guide.pdf", ResourceFile, rec.callbacks())
	dl.Start()

	req := stack.link.lastRequest(t)
	req.onResponse(RequestResponse{Name: "guide.pdf", Data: []byte{0x25, 0x50, 0x44, 0x46}})

	rec.assertOutcome(t, 1, 0)
	result := rec.successes[0]
	if result.Kind != ResourceFile {
		t.Errorf("result kind = %s, want %s", result.Kind, ResourceFile)
	}
	if result.Name != "guide.pdf" {
		t.Errorf("result name = %q, want guide.pdf", result.Name)
	}
	if !bytes.Equal(result.Data, []byte{0x25, 0x50, 0x44, 0x46}) {
		t.Errorf("result data = %v", result.Data)
	}
}

func TestDownloadEmptyFailureReason(t *testing.T) {
	stack := newFakeStack()
	dest := testDestination()
	stack.addIdentity(dest)
	rec := &downloadRecorder{}

	NewResourceDownloader(stack, dest, "/page/index.mu", ResourcePage, rec.callbacks()).Start()
	stack.link.lastRequest(t).onFailed("")

	rec.assertOutcome(t, 0, 1)
	if rec.failures[0] != "request_failed" {
		t.Errorf("failure reason = %q, want request_failed", rec.failures[0])
	}
}

func TestDownloadFailureReasonPassthrough(t *testing.T) {
	stack := newFakeStack()
	dest := testDestination()
	stack.addIdentity(dest)
	rec := &downloadRecorder{}

	NewResourceDownloader(stack, dest, "/page/index.mu", ResourcePage, rec.callbacks()).Start()
	stack.link.lastRequest(t).onFailed("link timed out")

	rec.assertOutcome(t, 0, 1)
	if rec.failures[0] != "link timed out" {
		t.Errorf("failure reason = %q, want link timed out", rec.failures[0])
	}
}

func TestPageDownloadRejectsInvalidUTF8(t *testing.T) {
	stack := newFakeStack()
	dest := testDestination()
	stack.addIdentity(dest)
	rec := &downloadRecorder{}

	NewResourceDownloader(stack, dest, "/page/index.mu", ResourcePage, rec.callbacks()).Start()
	stack.link.lastRequest(t).onResponse(RequestResponse{Data: []byte{0xff, 0xfe, 0xfd}})

	rec.assertOutcome(t, 0, 1)
	if rec.failures[0] != "page response is not valid utf-8" {
		t.Errorf("failure reason = %q", rec.failures[0])
	}
}

func TestFileDownloadRequiresName(t *testing.T) {
	stack := newFakeStack()
	dest := testDestination()
	stack.addIdentity(dest)
	rec := &downloadRecorder{}

	NewResourceDownloader(stack, dest, "/file/guide.pdf", ResourceFile, rec.callbacks()).Start()
	stack.link.lastRequest(t).onResponse(RequestResponse{Data: []byte("content without a name")})

	rec.assertOutcome(t, 0, 1)
	if rec.failures[0] != "file response carries no name" {
		t.Errorf("failure reason = %q", rec.failures[0])
	}
}
