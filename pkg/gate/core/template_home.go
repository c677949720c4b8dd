package core

const homeTemplate = `{{define "content"}}
<h1>{{.Title}}</h1>
<p>{{t .Lang "home.intro"}}</p>
{{template "controle_form" .Form}}
{{end}}`

// controleFormTemplate is replaced in place by the page script, so its
// root element keeps a stable id.
const controleFormTemplate = `{{define "controle_form"}}<div id="controle-form">
	{{if .Error}}<div class="alert alert-error" role="alert">{{.Error}}</div>{{end}}
	<form method="post" action="/">
		<input type="hidden" name="xsrf_token" value="{{.XSRFToken}}">
		<input type="hidden" name="contact_id" value="{{.ContactID}}">
		<label for="bsn">{{t .Lang "home.bsn.label"}}</label>
		<input type="text" id="bsn" name="bsn" inputmode="numeric" autocomplete="off" value="{{.BSN}}">
		<input type="submit" value="{{t .Lang "home.bsn.submit"}}" data-busy="{{t .Lang "home.busy"}}">
	</form>
	{{with .Controle}}
	<h2>{{t $.Lang "home.result"}}</h2>
	<dl class="controle">
		<dt>{{t $.Lang "home.name"}}</dt>
		<dd><input type="text" readonly value="{{.Name}}" data-copy="{{t $.Lang "home.copy"}}"></dd>
		<dt>{{t $.Lang "home.birthday"}}</dt>
		<dd><input type="text" readonly value="{{.Birthday}}" data-copy="{{t $.Lang "home.copy"}}"></dd>
		<dt>{{t $.Lang "home.postcode"}}</dt>
		<dd><input type="text" readonly value="{{.Postcode}}" data-copy="{{t $.Lang "home.copy"}}"></dd>
		<dt>{{t $.Lang "home.huisnummer"}}</dt>
		<dd><input type="text" readonly value="{{.Huisnummer}}" data-copy="{{t $.Lang "home.copy"}}"></dd>
		<dt>{{t $.Lang "home.nijmegen"}}</dt>
		<dd>{{if .InMunicipality}}{{t $.Lang "home.yes"}}{{else}}{{t $.Lang "home.no"}}{{end}}</dd>
	</dl>
	{{if not .InMunicipality}}<div class="alert alert-warning">{{t $.Lang "home.not_nijmegen"}}</div>{{end}}
	<form method="post" action="/linkuser">
		<input type="hidden" name="xsrf_token" value="{{$.XSRFToken}}">
		<input type="hidden" name="contact_id" value="{{$.ContactID}}">
		<input type="hidden" name="bsn" value="{{$.BSN}}">
		<input type="submit" value="{{t $.Lang "home.link"}}" data-busy="{{t $.Lang "home.busy"}}">
	</form>
	{{end}}
</div>{{end}}`
