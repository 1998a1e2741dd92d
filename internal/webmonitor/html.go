package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Detector Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; background: #111; color: #ddd; font-family: monospace; }
        #overlay { position: fixed; inset: 0; width: 100vw; height: 100vh; }
        #panel { position: fixed; left: 8px; bottom: 8px; max-height: 40vh; overflow: auto;
                 background: rgba(0,0,0,0.7); padding: 6px 10px; font-size: 12px; }
        #status { font-weight: bold; color: #0f0; }
    </style>
</head>
<body>
    <canvas id="overlay"></canvas>
    <div id="panel">
        <div id="status">Waiting for data...</div>
        <pre id="log"></pre>
    </div>
    <script>
        const canvas = document.getElementById('overlay');
        const ctx = canvas.getContext('2d');

        function reportSize() {
            canvas.width = window.innerWidth;
            canvas.height = window.innerHeight;
            fetch('/api/display', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({width: canvas.width, height: canvas.height})
            });
        }
        window.addEventListener('resize', reportSize);
        reportSize();

        function draw(event) {
            ctx.clearRect(0, 0, canvas.width, canvas.height);
            ctx.lineWidth = 3;
            ctx.font = '16px monospace';
            for (const d of event.detections) {
                const b = d.bbox;
                ctx.strokeStyle = '#0f0';
                ctx.strokeRect(b.left, b.top, b.right - b.left, b.bottom - b.top);
                ctx.fillStyle = '#0f0';
                ctx.fillText(d.label + ' ' + Math.round(d.confidence * 100) + '%', b.left, Math.max(16, b.top - 4));
            }
            document.getElementById('status').textContent = event.status;
        }

        const events = new EventSource('/api/detections/stream');
        events.onmessage = (e) => draw(JSON.parse(e.data));

        async function refreshLog() {
            const res = await fetch('/api/log');
            const body = await res.json();
            document.getElementById('log').textContent = body.entries.slice(-20).join('\n');
        }
        setInterval(refreshLog, 1000);
    </script>
</body>
</html>
`
