package core

const layoutTemplate = `{{define "layout"}}<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}} - {{t .Lang "service.name"}}</title>
<link rel="stylesheet" href="/static/styles.css">
</head>
<body>
<header>
	<span class="service">{{t .Lang "service.name"}}</span>
	{{if .ShowNav}}<nav><a href="/logout">{{t .Lang "nav.logout"}}</a></nav>{{end}}
</header>
<main>
{{template "content" .}}
</main>
<script src="/static/home.js" defer></script>
</body>
</html>{{end}}`
