package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Bank Turns Backend",
    "description": "Customer-service queue: priority tickets, teller and advisor dispatch",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/healthz": {
      "get": {"tags": ["health"], "summary": "Liveness and database ping", "responses": {"200": {"description": "OK"}, "503": {"description": "Database unavailable"}}}
    },
    "/api/turns": {
      "get": {"tags": ["turns"], "summary": "Pending turns in dispatch order", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}},
      "post": {"tags": ["turns"], "summary": "Create turn", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"201": {"description": "Created"}, "400": {"description": "Validation error"}, "409": {"description": "Duplicate ID"}}}
    },
    "/api/turns/history": {
      "get": {"tags": ["turns"], "summary": "Archived turns", "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "503": {"description": "Archive not configured"}}}
    },
    "/api/turns/{id}": {
      "get": {"tags": ["turns"], "summary": "Turn details", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}
    },
    "/api/turns/{id}/operations": {
      "post": {"tags": ["turns"], "summary": "Append operation", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}, "404": {"description": "Not found"}, "409": {"description": "Turn finished or served by a teller"}}}
    },
    "/api/workers": {
      "get": {"tags": ["workers"], "summary": "Worker slots", "responses": {"200": {"description": "OK"}}}
    },
    "/api/customers": {
      "post": {"tags": ["customers"], "summary": "Register customer", "responses": {"201": {"description": "Created"}}}
    },
    "/api/customers/{id}": {
      "get": {"tags": ["customers"], "summary": "Customer details", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}
    },
    "/api/accounts/{number}": {
      "get": {"tags": ["accounts"], "summary": "Account details", "parameters": [{"name": "number", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}
    },
    "/api/locks": {
      "get": {"tags": ["admin"], "summary": "Held resource locks", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}
    },
    "/api/dispatcher/drain": {
      "post": {"tags": ["admin"], "summary": "Drain pending turns", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}
    },
    "/api/debug/eligibility": {
      "get": {"tags": ["debug"], "summary": "Worker eligibility for a pending turn", "parameters": [{"name": "turn_id", "in": "query", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
