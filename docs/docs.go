package docs

import (
	"embed"
	"log"

	"github.com/swaggo/swag"
)

//go:embed swagger.json
var swaggerFS embed.FS

var doc string

// init registers the embedded Swagger specification with the swag runtime
func init() {
	data, err := swaggerFS.ReadFile("swagger.json")
	if err != nil {
		log.Fatalf("Failed to load swagger.json: %v", err)
	}
	doc = string(data)

	SwaggerInfo := &swag.Spec{
		Version:          "1.0",
		Host:             "localhost:8080",
		BasePath:         "/",
		Schemes:          []string{"http"},
		Title:            "Email Verifier API",
		Description:      "API for email validation and deliverability checking",
		InfoInstanceName: "swagger",
		SwaggerTemplate:  doc,
	}

	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
