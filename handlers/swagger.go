package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the document service.
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
    <title>streamline-documents - Swagger</title>
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

// OpenAPI document for the document endpoints. Every /api route needs a Bearer token.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "streamline-documents", "version": "v1.0.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "Document": { "type": "object", "properties": { "id": {"type":"string"}, "videoId": {"type":"string"}, "type": {"type":"string","enum":["script","description","notes","thumbnail_ideas"]}, "content": {"type":"string"}, "version": {"type":"integer"}, "createdAt": {"type":"string","format":"date-time"}, "updatedAt": {"type":"string","format":"date-time"}, "updatedBy": {"type":"string"} } },
      "Revision": { "type": "object", "properties": { "id": {"type":"string"}, "documentId": {"type":"string"}, "version": {"type":"integer"}, "content": {"type":"string"}, "createdAt": {"type":"string","format":"date-time"}, "createdBy": {"type":"string"} } },
      "WriteBody": { "type": "object", "required": ["content"], "properties": { "content": {"type":"string"}, "expectedVersion": {"type":"integer","minimum":1}, "force": {"type":"boolean"} } },
      "WriteResult": { "type": "object", "properties": { "documentId": {"type":"string"}, "version": {"type":"integer"}, "previousVersion": {"type":"integer"}, "updatedAt": {"type":"string","format":"date-time"} } },
      "Conflict": { "type": "object", "properties": { "conflict": {"type":"boolean"}, "documentId": {"type":"string"}, "expectedVersion": {"type":"integer"}, "currentVersion": {"type":"integer"}, "currentContent": {"type":"string"}, "updatedAt": {"type":"string","format":"date-time"}, "updatedBy": {"type":"string"} } },
      "Error": { "type": "object", "properties": { "error": {"type":"string"}, "retryable": {"type":"boolean"} } }
    }
  },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/api/documents/{id}": {
      "get": { "summary": "Read the current document", "responses": { "200": { "description": "document", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Document"} } } }, "404": { "description": "not found" } } },
      "put": {
        "summary": "Version-checked write; force skips the check but still records a revision",
        "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/WriteBody"} } } },
        "responses": {
          "200": { "description": "saved", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/WriteResult"} } } },
          "400": { "description": "missing content or expectedVersion" },
          "403": { "description": "role does not permit editing" },
          "404": { "description": "not found" },
          "409": { "description": "stale expectedVersion", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Conflict"} } } },
          "503": { "description": "storage unavailable, retryable", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Error"} } } }
        }
      }
    },
    "/api/documents/{id}/revisions": {
      "get": { "summary": "List revisions, most recent first", "responses": { "200": { "description": "revisions", "content": { "application/json": { "schema": { "type": "array", "items": {"$ref":"#/components/schemas/Revision"} } } } } } }
    },
    "/api/documents/{id}/revisions/{version}": {
      "get": { "summary": "Read one revision", "responses": { "200": { "description": "revision" }, "400": { "description": "bad version" }, "404": { "description": "not found" } } }
    },
    "/api/documents/{id}/revisions/{version}/restore": {
      "post": { "summary": "Write a revision's content as a new version", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"expectedVersion":{"type":"integer"}}} } } }, "responses": { "200": { "description": "restored" }, "409": { "description": "stale expectedVersion" } } }
    },
    "/api/videos/{videoId}/documents": {
      "post": { "summary": "Create every document type for a video (idempotent)", "responses": { "201": { "description": "documents" } } },
      "delete": { "summary": "Delete a video's documents and their revisions", "responses": { "200": { "description": "deleted count" } } }
    },
    "/api/videos/{videoId}/documents/{type}": {
      "get": { "summary": "Read the document of a video, creating it on first access", "responses": { "200": { "description": "document" }, "400": { "description": "unknown type" } } },
      "put": { "summary": "Version-checked write addressed by video and type", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/WriteBody"} } } }, "responses": { "200": { "description": "saved" }, "409": { "description": "stale expectedVersion" } } }
    },
    "/health": { "get": { "summary": "Liveness", "security": [], "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness of storage and token verification", "security": [], "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
