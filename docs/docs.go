// Package docs registers the OpenAPI description of the admin API with swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/login": {
            "post": {
                "description": "Checks the admin credentials and issues a JWT valid for 24 hours.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["User"],
                "summary": "Login",
                "parameters": [
                    {
                        "description": "admin credentials",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.LoginRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.LoginSuccessResponse"}},
                    "400": {"description": "bad request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "401": {"description": "invalid credentials", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "500": {"description": "internal error", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.HealthResponse"}}
                }
            }
        },
        "/api/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Aggregates over every attempt stored in PostgreSQL.",
                "produces": ["application/json"],
                "tags": ["API (Protected)"],
                "summary": "Warehouse statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.TableStats"}},
                    "401": {"description": "missing or invalid token", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "500": {"description": "database error", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/api/runs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns the run journal, newest first.",
                "produces": ["application/json"],
                "tags": ["API (Protected)"],
                "summary": "Run history",
                "parameters": [
                    {"type": "integer", "description": "maximum number of runs (default 50)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.RunsResponse"}},
                    "400": {"description": "invalid limit", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "401": {"description": "missing or invalid token", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "500": {"description": "journal error", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Starts an ETL run in the background. Progress is streamed on /ws/runs.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["API (Protected)"],
                "summary": "Start a run",
                "parameters": [
                    {
                        "description": "optional window",
                        "name": "request",
                        "in": "body",
                        "schema": {"$ref": "#/definitions/handler.TriggerRequest"}
                    }
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handler.TriggerResponse"}},
                    "400": {"description": "invalid window", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "401": {"description": "missing or invalid token", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "409": {"description": "a run is already in progress", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "500": {"description": "run journal unavailable", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/api/runs/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["API (Protected)"],
                "summary": "One run",
                "parameters": [
                    {"type": "string", "description": "run id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Run"}},
                    "401": {"description": "missing or invalid token", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "run not found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "500": {"description": "journal error", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/ws/runs": {
            "get": {
                "description": "Streams pipeline events as JSON messages.<br>\n**Note: this is not a plain HTTP endpoint.**\nClients connect with the ` + "`" + `ws://` + "`" + ` or ` + "`" + `wss://` + "`" + ` scheme.\nAuthentication uses the **'token' query parameter**, not the Authorization header.",
                "tags": ["WebSocket (Runs)"],
                "summary": "Run progress WebSocket",
                "parameters": [
                    {"type": "string", "description": "JWT issued by /login", "name": "token", "in": "query", "required": true}
                ],
                "responses": {
                    "101": {"description": "101 Switching Protocols", "schema": {"type": "string"}},
                    "401": {"description": "missing or invalid token", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "reason of the error"}}
        },
        "handler.HealthResponse": {
            "type": "object",
            "properties": {
                "running": {"type": "boolean", "example": false},
                "status": {"type": "string", "example": "ok"}
            }
        },
        "handler.LoginRequest": {
            "type": "object",
            "properties": {
                "password": {"type": "string", "example": "password123"},
                "username": {"type": "string", "example": "admin"}
            }
        },
        "handler.LoginSuccessResponse": {
            "type": "object",
            "properties": {"token": {"type": "string", "example": "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."}}
        },
        "handler.RunsResponse": {
            "type": "object",
            "properties": {
                "runs": {"type": "array", "items": {"$ref": "#/definitions/models.Run"}}
            }
        },
        "handler.TriggerRequest": {
            "type": "object",
            "properties": {
                "end": {"type": "string", "example": "2023-04-02 12:00:00.000000"},
                "start": {"type": "string", "example": "2023-04-01 12:00:00.000000"}
            }
        },
        "handler.TriggerResponse": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string", "example": "0b6f8d3c-3f0e-4d7e-9d55-4f8f7f1d2a10"},
                "window": {"$ref": "#/definitions/models.Window"}
            }
        },
        "models.Run": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "extracted": {"type": "integer"},
                "failed_batches": {"type": "integer"},
                "finished_at": {"type": "string"},
                "id": {"type": "string"},
                "inserted": {"type": "integer"},
                "started_at": {"type": "string"},
                "status": {"type": "string"},
                "unpacked": {"type": "integer"},
                "valid": {"type": "integer"},
                "window": {"$ref": "#/definitions/models.Window"}
            }
        },
        "models.TableStats": {
            "type": "object",
            "properties": {
                "correct_attempts": {"type": "integer"},
                "earliest_attempt": {"type": "string"},
                "incorrect_attempts": {"type": "integer"},
                "latest_attempt": {"type": "string"},
                "run_attempts": {"type": "integer"},
                "submit_attempts": {"type": "integer"},
                "total_records": {"type": "integer"},
                "unique_users": {"type": "integer"}
            }
        },
        "models.Window": {
            "type": "object",
            "properties": {
                "end": {"type": "string"},
                "start": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Grader usage ETL API",
	Description:      "Warehouse statistics, run history and run triggering for the grader usage ETL.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
