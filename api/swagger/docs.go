// Package swagger registers the OpenAPI description of the JSON API served
// under /api. Keep it in step with the handlers' request and response types.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Session JWT or API key. Format: \"Bearer {token}\"",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["auth"],
                "summary": "Log in with email and password",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {
                    "200": {"description": "Session token", "schema": {"$ref": "#/definitions/LoginResponse"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["auth"],
                "summary": "Current user",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SessionUser"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["auth"],
                "summary": "Clear the session cookie",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/nonce": {
            "get": {
                "tags": ["auth"],
                "summary": "Issue a nonce for the caller",
                "description": "Anonymous callers receive nonces for public actions such as track_link.",
                "parameters": [{"in": "query", "name": "action", "type": "string", "default": "qr_trackr_nonce"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Nonce"}}}
            }
        },
        "/api-keys": {
            "get": {
                "tags": ["api-keys"],
                "summary": "List the caller's API keys",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/APIKey"}}}}
            },
            "post": {
                "tags": ["api-keys"],
                "summary": "Create an API key",
                "description": "The plaintext key is only returned here.",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "body", "name": "body", "schema": {"$ref": "#/definitions/CreateKeyRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/CreatedAPIKey"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api-keys/{id}": {
            "delete": {
                "tags": ["api-keys"],
                "summary": "Revoke an API key",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}],
                "responses": {
                    "200": {"description": "Deleted"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/export": {
            "get": {
                "tags": ["import-export"],
                "summary": "Export tracking links",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "referral_filter", "type": "string"},
                    {"in": "query", "name": "download", "type": "boolean"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/ExportedLink"}}}}
            }
        },
        "/export/{code}": {
            "get": {
                "tags": ["import-export"],
                "summary": "Export one tracking link",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "code", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ExportedLink"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/import": {
            "post": {
                "tags": ["import-export"],
                "summary": "Import tracking links",
                "description": "Existing tracking codes are kept. Scan counts are not imported.",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/ImportRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ImportResult"}}}
            }
        },
        "/admin/stats": {
            "get": {
                "tags": ["admin"],
                "summary": "Link, scan and account totals",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Stats"}}}
            }
        },
        "/admin/users": {
            "get": {
                "tags": ["admin"],
                "summary": "List accounts",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "q", "type": "string"},
                    {"in": "query", "name": "role", "type": "string", "enum": ["admin", "editor"]},
                    {"in": "query", "name": "page", "type": "integer", "minimum": 1}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/UserPage"}}}
            },
            "post": {
                "tags": ["admin"],
                "summary": "Create an account",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/CreateUserRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/User"}},
                    "409": {"description": "Email already registered", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/admin/users/{id}": {
            "get": {
                "tags": ["admin"],
                "summary": "Get an account",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/User"}}}
            },
            "put": {
                "tags": ["admin"],
                "summary": "Update an account",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "type": "integer", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateUserRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/User"}}}
            },
            "delete": {
                "tags": ["admin"],
                "summary": "Delete an account and its API keys",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "type": "integer", "required": true}],
                "responses": {"200": {"description": "Deleted"}}
            }
        }
    },
    "definitions": {
        "Error": {"type": "object", "properties": {"error": {"type": "string"}}},
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "LoginResponse": {
            "type": "object",
            "properties": {"token": {"type": "string"}, "user": {"$ref": "#/definitions/SessionUser"}}
        },
        "SessionUser": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "email": {"type": "string"},
                "name": {"type": "string"},
                "role": {"type": "string"},
                "capabilities": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Nonce": {"type": "object", "properties": {"action": {"type": "string"}, "nonce": {"type": "string"}}},
        "User": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "email": {"type": "string"},
                "name": {"type": "string"},
                "role": {"type": "string", "enum": ["admin", "editor"]},
                "created_at": {"type": "string", "format": "date-time"},
                "api_key_count": {"type": "integer"}
            }
        },
        "UserPage": {
            "type": "object",
            "properties": {
                "users": {"type": "array", "items": {"$ref": "#/definitions/User"}},
                "total": {"type": "integer"},
                "page": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "CreateUserRequest": {
            "type": "object",
            "required": ["email", "name", "password"],
            "properties": {
                "email": {"type": "string"},
                "name": {"type": "string"},
                "password": {"type": "string", "minLength": 8},
                "role": {"type": "string", "enum": ["admin", "editor"]}
            }
        },
        "UpdateUserRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "password": {"type": "string", "minLength": 8},
                "role": {"type": "string", "enum": ["admin", "editor"]}
            }
        },
        "APIKey": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "key_prefix": {"type": "string"},
                "description": {"type": "string"},
                "last_used_at": {"type": "string", "format": "date-time"},
                "expires_at": {"type": "string", "format": "date-time"},
                "expired": {"type": "boolean"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "CreatedAPIKey": {
            "allOf": [
                {"$ref": "#/definitions/APIKey"},
                {"type": "object", "properties": {"key": {"type": "string"}}}
            ]
        },
        "CreateKeyRequest": {
            "type": "object",
            "properties": {
                "description": {"type": "string", "maxLength": 255},
                "expires_in_days": {"type": "integer", "minimum": 1, "maximum": 365}
            }
        },
        "ExportedLink": {
            "type": "object",
            "properties": {
                "qr_code": {"type": "string"},
                "destination_url": {"type": "string"},
                "common_name": {"type": "string"},
                "referral_code": {"type": "string"},
                "post_id": {"type": "integer"},
                "tracking_url": {"type": "string"},
                "scans": {"type": "integer"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "ImportRequest": {
            "type": "object",
            "required": ["links"],
            "properties": {"links": {"type": "array", "items": {"$ref": "#/definitions/ExportedLink"}}}
        },
        "ImportResult": {
            "type": "object",
            "properties": {
                "imported": {"type": "integer"},
                "skipped": {"type": "integer"},
                "errors": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Stats": {
            "type": "object",
            "properties": {
                "total_links": {"type": "integer"},
                "total_scans": {"type": "integer"},
                "recent_scans": {"type": "integer"},
                "linked_posts": {"type": "integer"},
                "referral_codes": {"type": "integer"},
                "total_users": {"type": "integer"},
                "admin_users": {"type": "integer"},
                "active_api_keys": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "QR Trackr API",
	Description:      "Tracking links with QR codes, scan counting and link administration.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
