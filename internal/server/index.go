package server

// indexHTML is a minimal control page. Button state follows the
// affordances reported by /api/status.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>micnote</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
</head>
<body>
<main class="container">
    <h1>micnote</h1>
    <p id="state">Loading...</p>
    <div role="group">
        <button id="record" onclick="call('record')">Record</button>
        <button id="stop" onclick="call('stop')">Stop</button>
        <button id="play" onclick="call('play')">Play</button>
        <button id="upload" onclick="call('upload')">Upload</button>
    </div>
    <p id="error" style="color: var(--pico-del-color)"></p>
    <p id="last"></p>
    <audio id="audio" controls></audio>
</main>
<script>
function render(st) {
    var s = st.uploading ? st.state + ' (uploading)' : st.state;
    document.getElementById('state').textContent = s + ' - ' + st.duration;
    for (var k in st.affordances) {
        document.getElementById(k).disabled = !st.affordances[k];
    }
    document.getElementById('error').textContent = st.last_error || '';
    document.getElementById('last').textContent = st.last_upload ? 'Last upload: ' + st.last_upload.Uri : '';
}
function refresh() {
    fetch('/api/status').then(function (r) { return r.json(); })
        .then(function (j) { render(j.status); });
}
function call(op) {
    fetch('/api/' + op, {method: 'POST'}).then(function (r) { return r.json(); })
        .then(function (j) {
            if (j.status) { render(j.status); } else { document.getElementById('error').textContent = j.error; }
            if (op === 'stop') { document.getElementById('audio').src = '/api/stream.wav?t=' + Date.now(); }
        });
}
refresh();
setInterval(refresh, 500);
</script>
</body>
</html>`
