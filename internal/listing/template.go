package listing

import "html/template"

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Index of {{.Path}}</title>
<style>
body { font-family: sans-serif; margin: 40px; }
h1 { margin-bottom: 20px; }
table { border-collapse: collapse; width: 100%; }
th, td { padding: 8px; text-align: left; border-bottom: 1px solid #ddd; }
th { background-color: #f2f2f2; font-weight: bold; }
tr:hover { background-color: #f5f5f5; }
.summary { background-color: #f8f9fa; padding: 15px; margin-bottom: 20px; border-radius: 5px; }
</style>
</head>
<body>
<h1>Index of {{.Path}}</h1>
<div class="summary">
<p>Total Files: {{.TotalFiles}}</p>
<p>Total Size: {{.TotalSize}}</p>
</div>
<table>
<thead>
<tr><th>Name</th><th>Last modified</th><th>Size</th></tr>
</thead>
<tbody>
{{- if .ShowParent}}
<tr><td><a href="../">../</a></td><td>-</td><td>-</td></tr>
{{- end}}
{{- range .Entries}}
<tr><td><a href="{{.Href}}">{{.Name}}</a></td><td>{{.Modified}}</td><td>{{.Size}}</td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))
