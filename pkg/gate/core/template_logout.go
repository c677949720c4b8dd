package core

const logoutTemplate = `{{define "content"}}
<h1>{{t .Lang "logout.heading"}}</h1>
<div class="alert">{{t .Lang "logout.message"}}</div>
{{if .LoginURL}}<p><a href="{{.LoginURL}}">{{t .Lang "logout.login"}}</a></p>{{end}}
{{end}}`
