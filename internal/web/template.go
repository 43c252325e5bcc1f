package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pc-switch/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Config.Node}} - PC Switch</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.connected { color: green; }
.disconnected { color: red; }
.unknown { color: orange; }
</style>
</head>
<body>
<h1>PC Switch: {{.Config.Node}}</h1>

<h2>Channels</h2>
<table>
<tr><th>Name</th><th>Pin</th><th>Port</th><th>On</th><th>FS</th><th>Rejected</th><th>Timeouts</th><th>Last</th></tr>
{{range .Channels}}<tr><td>{{.Name}}</td><td>{{.Pin}}</td><td>{{.Port}}</td><td>{{.PowerOn}}</td><td>{{.ForceShutdown}}</td><td>{{.Rejected}}</td><td>{{.Timeouts}}</td><td>{{if .LastEvent}}{{.LastEvent}} {{stamp .LastEventAt}}{{else}}-{{end}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>Link</th><td class="{{if eq .Link.State "CONNECTED"}}connected{{else if eq .Link.State "DISCONNECTED"}}disconnected{{else}}unknown{{end}}">{{.Link.State}}</td></tr>
<tr><th>IP</th><td>{{.Link.IP}}</td></tr>
<tr><th>MAC</th><td>{{.Link.HardwareAddr}}</td></tr>
<tr><th>Link drops</th><td>{{.Link.Drops}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>Clock</h2>
<table>
<tr><th>Synced</th><td>{{if .Clock.Synced}}yes{{else}}no{{end}}</td></tr>
<tr><th>DST</th><td>{{if .Clock.DST}}yes{{else}}no{{end}}</td></tr>
<tr><th>Last sync</th><td>{{stamp .Clock.LastSync}}</td></tr>
<tr><th>Maintenance</th><td>{{if lt .Config.MaintenanceHour 0}}disabled{{else}}{{.Config.MaintenanceHour}}:00{{if .Config.Reboot}} (power-cycle){{end}}, last {{stamp .LastMaintenance}}{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Boot</th><td>#{{.BootCount}}</td></tr>
<tr><th>Session</th><td>{{.Session}}</td></tr>
{{if .LastFault}}<tr><th>Last fault</th><td>{{.LastFault.Reason}} ({{stamp .LastFault.At}})</td></tr>{{end}}
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
