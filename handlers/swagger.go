package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the auth service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>gogotex-auth Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "gogotex-auth", "version": "v0.2.0" },
  "components": {
    "schemas": {
      "Error": { "type": "object", "properties": { "success": {"type":"boolean"}, "error": {"type":"string"}, "message": {"type":"string"} } },
      "Session": { "type": "object", "properties": { "success": {"type":"boolean"}, "user": {"type":"object"}, "token": {"type":"string"}, "tokenType": {"type":"string"}, "expiresAt": {"type":"string","format":"date-time"}, "refreshToken": {"type":"string"}, "provider": {"type":"string"} } }
    }
  },
  "paths": {
    "/auth/providers": { "get": { "summary": "List enabled identity providers", "responses": { "200": { "description": "provider names" } } } },
    "/auth/{provider}/login": {
      "post": {
        "summary": "Authenticate with a provider: {email,password} for local, {token} for external",
        "parameters": [{ "name": "provider", "in": "path", "required": true, "schema": {"type":"string"} }],
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","additionalProperties":{"type":"string"}}}}},
        "responses": { "200": { "description": "session issued", "content": {"application/json": {"schema": {"$ref":"#/components/schemas/Session"}}} }, "401": { "description": "invalid credentials" } }
      }
    },
    "/auth/{provider}/register": {
      "post": {
        "summary": "Create an account with a provider that supports registration",
        "parameters": [{ "name": "provider", "in": "path", "required": true, "schema": {"type":"string"} }],
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"},"name":{"type":"string"}}}}}},
        "responses": { "201": { "description": "account created" }, "409": { "description": "already exists" } }
      }
    },
    "/auth/validate": {
      "post": { "summary": "Resolve the user behind a token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"token":{"type":"string"},"provider":{"type":"string"}}}}}}, "responses": { "200": { "description": "user id and provider" }, "401": { "description": "invalid, expired or revoked token" } } }
    },
    "/auth/{provider}/logout": {
      "post": { "summary": "Revoke a token until it expires", "parameters": [{ "name": "provider", "in": "path", "required": true, "schema": {"type":"string"} }], "responses": { "200": { "description": "revoked" }, "503": { "description": "revocation could not be recorded" } } }
    },
    "/auth/refresh": {
      "post": { "summary": "Exchange a refresh token for a new pair", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refreshToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "new pair" }, "401": { "description": "invalid refresh" } } }
    },
    "/api/v1/me": {
      "get": { "summary": "Get the authenticated user", "responses": { "200": { "description": "user" }, "401": { "description": "unauthorized" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
