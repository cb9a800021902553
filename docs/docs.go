// Package docs registers the API description served under /docs.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/session": {
            "get": {
                "tags": ["auth"],
                "summary": "Current session",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ports.SessionResponse"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["auth"],
                "summary": "Log in",
                "description": "Make the user identified by the credentials the active user",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/ports.CredentialsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ports.AuthResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/auth/register": {
            "post": {
                "tags": ["auth"],
                "summary": "Register",
                "description": "Create an identity and make it the active user",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/ports.CredentialsRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ports.AuthResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["auth"],
                "summary": "Log out",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.MessageResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tasks": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["tasks"],
                "summary": "List tasks",
                "description": "Incomplete tasks first, newest first within each group",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ports.TaskListResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["tasks"],
                "summary": "Create a task",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/ports.CreateTaskRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.MessageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/tasks/stream": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["tasks"],
                "summary": "Live task view",
                "description": "Server-sent events: tasks, notice, session",
                "produces": ["text/event-stream"],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/tasks/{id}": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["tasks"],
                "summary": "Update a task",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/ports.UpdateTaskRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.MessageResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["tasks"],
                "summary": "Delete a task",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.MessageResponse"}}
                }
            }
        },
        "/tasks/{id}/toggle": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["tasks"],
                "summary": "Toggle task completion",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.MessageResponse"}}
                }
            }
        },
        "/tasks/{id}/subtasks": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["subtasks"],
                "summary": "Add a sub-task",
                "consumes": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/ports.CreateSubTaskRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.MessageResponse"}}
                }
            }
        },
        "/tasks/{id}/subtasks/{subId}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["subtasks"],
                "summary": "Delete a sub-task",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "subId", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.MessageResponse"}}
                }
            }
        },
        "/tasks/{id}/subtasks/{subId}/toggle": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["subtasks"],
                "summary": "Toggle sub-task completion",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "subId", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.MessageResponse"}}
                }
            }
        }
    },
    "definitions": {
        "entities.User": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "email": {"type": "string"}
            }
        },
        "entities.SubTask": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "time": {"type": "string"},
                "details": {"type": "string"},
                "isCompleted": {"type": "boolean"}
            }
        },
        "ports.TaskView": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "isCompleted": {"type": "boolean"},
                "userId": {"type": "string"},
                "createdAt": {"type": "string", "format": "date-time"},
                "subTasks": {"type": "array", "items": {"$ref": "#/definitions/entities.SubTask"}},
                "subTasksCompleted": {"type": "integer"},
                "subTasksTotal": {"type": "integer"}
            }
        },
        "ports.TaskListResponse": {
            "type": "object",
            "properties": {
                "tasks": {"type": "array", "items": {"$ref": "#/definitions/ports.TaskView"}},
                "isLoading": {"type": "boolean"}
            }
        },
        "ports.SessionResponse": {
            "type": "object",
            "properties": {
                "user": {"$ref": "#/definitions/entities.User"},
                "isLoading": {"type": "boolean"}
            }
        },
        "ports.CredentialsRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "ports.AuthResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "token_type": {"type": "string"},
                "expires_in": {"type": "integer"},
                "user": {"$ref": "#/definitions/entities.User"}
            }
        },
        "ports.CreateTaskRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"}
            }
        },
        "ports.UpdateTaskRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"}
            }
        },
        "ports.CreateSubTaskRequest": {
            "type": "object",
            "properties": {
                "time": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "http.MessageResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "http.ErrorResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header",
            "description": "Type 'Bearer' followed by a space and JWT token"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http"},
	Title:            "Tasklist API",
	Description:      "Personal task manager with nested sub-tasks and live updates",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
