package main

const uiHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Mesh Chat</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,sans-serif;background:#0a0a0a;color:#e1e1e1;height:100vh;overflow:hidden}
.app{display:flex;height:100vh}
.sidebar{width:340px;border-right:1px solid #1a1a1a;display:flex;flex-direction:column;background:#111}
.sidebar-header{padding:16px;border-bottom:1px solid #1a1a1a}
.sidebar-header h1{font-size:16px;font-weight:600;color:#6c8cff;margin-bottom:12px}
.ident{font-size:11px;color:#666;word-break:break-all;margin-bottom:10px}
.name-row{display:flex;gap:8px}
.name-input{flex:1;padding:8px 12px;background:#1a1a1a;border:1px solid #2a2a2a;border-radius:8px;color:#e1e1e1;font-size:13px;outline:none}
.name-input:focus{border-color:#6c8cff}
.btn{background:#6c8cff;color:#000;border:none;padding:8px 14px;border-radius:6px;font-size:12px;cursor:pointer;font-weight:600}
.btn:hover{background:#8aa2ff}
.btn-dim{background:#2a2a2a;color:#e1e1e1}
.btn-dim:hover{background:#3a3a3a}
.section-title{font-size:11px;color:#666;text-transform:uppercase;letter-spacing:.05em;padding:12px 16px 6px}
.peer-list{flex:1;overflow-y:auto}
.peer-item{padding:12px 16px;border-bottom:1px solid #141414;cursor:pointer;transition:background .15s}
.peer-item:hover{background:#1a1a1a}
.peer-item.active{background:#1a2030}
.peer-name{font-size:14px;font-weight:500;margin-bottom:2px}
.peer-hash{font-size:11px;color:#666;word-break:break-all}
.peer-time{font-size:10px;color:#555;margin-top:2px}
.sidebar-footer{padding:12px 16px;border-top:1px solid #1a1a1a;display:flex;gap:8px}
.main{flex:1;display:flex;flex-direction:column;background:#0a0a0a}
.main-header{padding:14px 20px;border-bottom:1px solid #1a1a1a;background:#111}
.main-header h2{font-size:15px;font-weight:500}
.main-header span{font-size:11px;color:#666}
.messages{flex:1;overflow-y:auto;padding:20px;display:flex;flex-direction:column;gap:4px}
.msg{max-width:65%;padding:8px 12px;border-radius:10px;font-size:13px;line-height:1.5;word-wrap:break-word}
.msg.incoming{align-self:flex-start;background:#1a1a1a;border-bottom-left-radius:2px}
.msg.outgoing{align-self:flex-end;background:#1c2840;border-bottom-right-radius:2px}
.msg .meta{font-size:10px;color:#555;margin-top:3px;text-align:right}
.msg .state{color:#6c8cff}
.msg .state.failed{color:#dc2626}
.composer{display:flex;gap:10px;padding:14px 20px;border-top:1px solid #1a1a1a;background:#111}
.composer input{flex:1;padding:10px 14px;background:#1a1a1a;border:1px solid #2a2a2a;border-radius:8px;color:#e1e1e1;font-size:14px;outline:none}
.composer input:focus{border-color:#6c8cff}
.empty{flex:1;display:flex;align-items:center;justify-content:center;color:#444;font-size:15px}
.download-box{padding:12px 16px;border-top:1px solid #1a1a1a;background:#111}
.download-box .row{display:flex;gap:8px;margin-bottom:8px}
.download-box input{flex:1;padding:8px 12px;background:#1a1a1a;border:1px solid #2a2a2a;border-radius:8px;color:#e1e1e1;font-size:12px;outline:none}
.download-out{font-size:11px;color:#888;max-height:140px;overflow-y:auto;white-space:pre-wrap;word-break:break-all;background:#0e0e0e;border-radius:6px;padding:8px;margin-top:4px}
.modal-bg{position:fixed;top:0;left:0;width:100%;height:100%;background:rgba(0,0,0,.7);display:none;align-items:center;justify-content:center;z-index:100}
.modal-bg.show{display:flex}
.modal{background:#1a1a1a;border:1px solid #2a2a2a;border-radius:12px;padding:24px;text-align:center}
.modal img{border-radius:8px;margin-bottom:12px}
.modal p{color:#999;font-size:12px;word-break:break-all;max-width:280px}
::-webkit-scrollbar{width:6px}
::-webkit-scrollbar-track{background:transparent}
::-webkit-scrollbar-thumb{background:#2a2a2a;border-radius:3px}
</style>
</head>
<body>
<div class="app">
  <div class="sidebar">
    <div class="sidebar-header">
      <h1>Mesh Chat</h1>
      <div class="ident" id="myAddress"></div>
      <div class="name-row">
        <input class="name-input" type="text" id="displayName" placeholder="Display name">
        <button class="btn" onclick="saveName()">Save</button>
      </div>
    </div>
    <div class="section-title">Known Peers</div>
    <div class="peer-list" id="peerList"><div class="empty">No peers announced yet</div></div>
    <div class="sidebar-footer">
      <button class="btn" onclick="announce()">Announce</button>
      <button class="btn btn-dim" onclick="showQR()">Address QR</button>
    </div>
  </div>
  <div class="main">
    <div class="main-header" id="mainHeader" style="display:none">
      <h2 id="peerTitle"></h2>
      <span id="peerSubtitle"></span>
    </div>
    <div class="messages" id="messages">
      <div class="empty">Select a peer to start chatting</div>
    </div>
    <div class="composer" id="composer" style="display:none">
      <input type="text" id="msgInput" placeholder="Type a message..." onkeydown="if(event.key==='Enter')sendMessage()">
      <button class="btn" onclick="sendMessage()">Send</button>
    </div>
    <div class="download-box" id="downloadBox" style="display:none">
      <div class="row">
        <input type="text" id="pagePath" placeholder="/page/index.mu">
        <button class="btn btn-dim" onclick="fetchPage()">Get Page</button>
      </div>
      <div class="row">
        <input type="text" id="filePath" placeholder="/file/example.txt">
        <button class="btn btn-dim" onclick="fetchFile()">Get File</button>
      </div>
      <div class="download-out" id="downloadOut"></div>
    </div>
  </div>
</div>
<div class="modal-bg" id="modalBg" onclick="this.classList.remove('show')">
  <div class="modal">
    <img src="/api/v1/address-qr" width="256" height="256" alt="address">
    <p id="qrAddress"></p>
  </div>
</div>
<script>
let ws = null, myAddr = "", peers = {}, activePeer = null, msgs = [];

function esc(s) { if(!s)return""; const d=document.createElement("div"); d.textContent=s; return d.innerHTML; }
function shortHash(h) { return h.slice(0, 8) + "..." + h.slice(-8); }
function relTime(ts) { return ts ? new Date(ts*1000).toLocaleTimeString([],{hour:"2-digit",minute:"2-digit"}) : ""; }

function connect() {
  const proto = location.protocol === "https:" ? "wss://" : "ws://";
  ws = new WebSocket(proto + location.host + "/ws");
  ws.onmessage = e => handle(JSON.parse(e.data));
  ws.onclose = () => setTimeout(connect, 2000);
}

function handle(ev) {
  if (ev.type === "config") {
    myAddr = ev.config.lxmf_address_hash;
    document.getElementById("myAddress").textContent = myAddr;
    document.getElementById("qrAddress").textContent = myAddr;
    const input = document.getElementById("displayName");
    if (document.activeElement !== input) input.value = ev.config.display_name;
  } else if (ev.type === "known_peers") {
    peers = {};
    ev.known_peers.forEach(p => peers[p.destination_hash] = p);
    renderPeers();
  } else if (ev.type === "announce") {
    peers[ev.announce.destination_hash] = ev.announce;
    renderPeers();
  } else if (ev.type === "lxmf.delivery" || ev.type === "lxmf_message_state_updated" || ev.type === "lxmf_outbound_message_created") {
    upsertMessage(ev.lxmf_message);
  } else if (ev.type === "nomadnet.page.download") {
    showDownload(ev.nomadnet_page_download, "page");
  } else if (ev.type === "nomadnet.file.download") {
    showDownload(ev.nomadnet_file_download, "file");
  }
}

function renderPeers() {
  const el = document.getElementById("peerList");
  const list = Object.values(peers).sort((a,b) => b.last_announce_timestamp - a.last_announce_timestamp);
  if (!list.length) { el.innerHTML = '<div class="empty">No peers announced yet</div>'; return; }
  el.innerHTML = list.map(p =>
    '<div class="peer-item'+(activePeer===p.destination_hash?' active':'')+'" onclick="openPeer(\''+p.destination_hash+'\')">' +
      '<div class="peer-name">'+esc(p.app_data || "Anonymous Peer")+'</div>' +
      '<div class="peer-hash">'+shortHash(p.destination_hash)+'</div>' +
      '<div class="peer-time">announced '+relTime(p.last_announce_timestamp)+'</div>' +
    '</div>').join("");
}

async function openPeer(hash) {
  activePeer = hash;
  renderPeers();
  const p = peers[hash];
  document.getElementById("mainHeader").style.display = "block";
  document.getElementById("composer").style.display = "flex";
  document.getElementById("downloadBox").style.display = "block";
  document.getElementById("peerTitle").textContent = (p && p.app_data) || "Anonymous Peer";
  document.getElementById("peerSubtitle").textContent = hash;
  const r = await fetch("/api/v1/lxmf-messages?source_hash="+myAddr+"&destination_hash="+hash);
  const data = await r.json();
  msgs = data.lxmf_messages || [];
  renderMessages();
}

function upsertMessage(m) {
  if (!activePeer) return;
  if (m.source_hash !== activePeer && m.destination_hash !== activePeer) return;
  const i = msgs.findIndex(x => x.hash === m.hash);
  if (i >= 0) msgs[i] = m; else msgs.push(m);
  renderMessages();
}

function renderMessages() {
  const el = document.getElementById("messages");
  if (!msgs.length) { el.innerHTML = '<div class="empty">No messages yet</div>'; return; }
  el.innerHTML = msgs.map(m => {
    const cls = m.is_incoming ? "incoming" : "outgoing";
    let state = "";
    if (!m.is_incoming) {
      state = ' &middot; <span class="state'+(m.state==="failed"?" failed":"")+'">'+esc(m.state);
      if (m.state === "sending" && m.progress > 0) state += " " + m.progress + "%";
      state += '</span>';
    }
    return '<div class="msg '+cls+'">'+esc(m.content)+'<div class="meta">'+relTime(m.timestamp)+state+'</div></div>';
  }).join("");
  el.scrollTop = el.scrollHeight;
}

function send(obj) { if (ws && ws.readyState === 1) ws.send(JSON.stringify(obj)); }

function sendMessage() {
  const input = document.getElementById("msgInput");
  const text = input.value.trim();
  if (!text || !activePeer) return;
  send({type: "lxmf.delivery", destination_hash: activePeer, message: text});
  input.value = "";
}

function saveName() {
  const v = document.getElementById("displayName").value.trim();
  if (v) send({type: "config.set", config: {display_name: v}});
}

function announce() { send({type: "announce"}); }

function fetchPage() {
  const p = document.getElementById("pagePath").value.trim();
  if (p && activePeer) send({type: "nomadnet.page.download", nomadnet_page_download: {destination_hash: activePeer, page_path: p}});
}

function fetchFile() {
  const p = document.getElementById("filePath").value.trim();
  if (p && activePeer) send({type: "nomadnet.file.download", nomadnet_file_download: {destination_hash: activePeer, file_path: p}});
}

function showDownload(d, kind) {
  const out = document.getElementById("downloadOut");
  if (d.status === "progress") {
    out.textContent = "downloading " + Math.round(d.progress * 100) + "%";
  } else if (d.status === "error") {
    out.textContent = "download failed: " + d.failure_reason;
  } else if (kind === "page") {
    out.textContent = d.page_content;
  } else {
    const a = document.createElement("a");
    a.href = "data:application/octet-stream;base64," + d.file_bytes;
    a.download = d.file_name;
    a.click();
    out.textContent = "saved " + d.file_name;
  }
}

function showQR() { document.getElementById("modalBg").classList.add("show"); }

connect();
</script>
</body>
</html>`
