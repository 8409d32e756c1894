// Package docs holds the relay's swagger document. Regenerate with swag init.
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
        "/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Host login",
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/model.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.LoginResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/rooms/{code}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Room registry entry",
                "parameters": [
                    {"type": "string", "name": "code", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.RoomMeta"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/rooms/{code}/authority": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Register the room authority and get its relay token",
                "parameters": [
                    {"type": "string", "name": "code", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/model.RoomJoinRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.RoomJoinResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "410": {"description": "Gone", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/rooms/{code}/join": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "Get a requester relay token for a live room",
                "parameters": [
                    {"type": "string", "name": "code", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/model.RoomJoinRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.RoomJoinResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "410": {"description": "Gone", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/rooms/{code}/end": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["rooms"],
                "summary": "End a room and drop its relay connections",
                "parameters": [
                    {"type": "string", "name": "code", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.RoomMeta"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/ws/rooms/{code}": {
            "get": {
                "tags": ["relay"],
                "summary": "Attendance relay websocket",
                "parameters": [
                    {"type": "string", "name": "code", "in": "path", "required": true},
                    {"type": "string", "name": "token", "in": "query", "required": true}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "401": {"description": "Unauthorized"},
                    "403": {"description": "Forbidden"},
                    "404": {"description": "Not Found"},
                    "410": {"description": "Gone"}
                }
            }
        }
    },
    "definitions": {
        "errorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "model.LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {"username": {"type": "string"}, "password": {"type": "string"}}
        },
        "model.LoginResponse": {
            "type": "object",
            "properties": {"token": {"type": "string"}, "hostId": {"type": "string"}}
        },
        "model.RoomJoinRequest": {
            "type": "object",
            "required": ["identity"],
            "properties": {
                "identity": {"type": "string"},
                "name": {"type": "string"},
                "role": {"type": "string", "enum": ["instructor", "admin", "student", "guardian", "guest"]}
            }
        },
        "model.RoomJoinResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "roomCode": {"type": "string"},
                "authority": {"type": "boolean"},
                "roomMeta": {"$ref": "#/definitions/model.RoomMeta"}
            }
        },
        "model.RoomMeta": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "authorityId": {"type": "string"},
                "hostId": {"type": "string"},
                "status": {"type": "string", "enum": ["live", "ended"]},
                "createdAt": {"type": "string", "format": "date-time"},
                "endedAt": {"type": "string", "format": "date-time"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "rollcall relay API",
	Description:      "Room registry and websocket relay for attendance agents.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
