package docs

import _ "embed"

//go:embed mailer-api.openapi.yaml
var embeddedMailerOpenAPI []byte

//go:embed swagger.html
var embeddedMailerSwaggerHTML []byte

// MailerOpenAPI содержит OpenAPI-спецификацию рассылок.
var MailerOpenAPI = embeddedMailerOpenAPI

// MailerSwaggerHTML содержит HTML-страницу с Swagger UI.
var MailerSwaggerHTML = embeddedMailerSwaggerHTML
