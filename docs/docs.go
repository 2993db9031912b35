// Package docs registers the OpenAPI document of the dialogcast job API with
// swag, so the swagger UI can serve it at /swagger/doc.json.
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
        "/jobs": {
            "post": {
                "description": "Accepts a JSON submission, a multipart upload (file field \"script\") or the raw script text as the body. For raw and multipart uploads the engine and backend options are read from query parameters. The job runs in the background.",
                "consumes": ["application/json", "text/plain", "multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Submit a dialogue script",
                "parameters": [
                    {"description": "Submission (JSON). For raw text, POST the script directly.", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/message.SubmitRequest"}},
                    {"type": "string", "description": "Preferred engine (raw and multipart uploads)", "name": "engine", "in": "query"},
                    {"type": "string", "description": "Backend language option", "name": "language", "in": "query"},
                    {"type": "string", "description": "Reference voice file for voice-cloning engines", "name": "speaker_wav", "in": "query"}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/message.SubmitResponse"}},
                    "400": {"description": "Invalid request or unknown engine", "schema": {"$ref": "#/definitions/message.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job status",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/message.JobStatus"}},
                    "404": {"description": "Unknown or expired job", "schema": {"$ref": "#/definitions/message.ErrorResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Cancel a job",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/message.JobStatus"}},
                    "404": {"description": "Unknown or expired job", "schema": {"$ref": "#/definitions/message.ErrorResponse"}},
                    "409": {"description": "Job already finished", "schema": {"$ref": "#/definitions/message.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/audio": {
            "get": {
                "produces": ["audio/mpeg", "audio/wav"],
                "tags": ["jobs"],
                "summary": "Download the assembled audio",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Unknown or expired job, or a job that failed or was cancelled", "schema": {"$ref": "#/definitions/message.ErrorResponse"}},
                    "409": {"description": "Job is still queued or processing", "schema": {"$ref": "#/definitions/message.ErrorResponse"}}
                }
            }
        },
        "/jobs/{id}/ws": {
            "get": {
                "description": "Upgrades to a WebSocket and sends a JobStatus JSON message on every change. The server closes the connection after the final state.",
                "tags": ["jobs"],
                "summary": "Stream job status",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "101": {"description": "Switching Protocols", "schema": {"$ref": "#/definitions/message.JobStatus"}},
                    "404": {"description": "Unknown or expired job", "schema": {"$ref": "#/definitions/message.ErrorResponse"}}
                }
            }
        },
        "/engines": {
            "get": {
                "produces": ["application/json"],
                "tags": ["engines"],
                "summary": "List synthesis engines",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/message.EnginesResponse"}}
                }
            }
        }
    },
    "definitions": {
        "message.SubmitRequest": {
            "type": "object",
            "properties": {
                "script": {"type": "string"},
                "engine": {"type": "string"},
                "options": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "message.SubmitResponse": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "state": {"type": "string"},
                "status_url": {"type": "string"},
                "audio_url": {"type": "string"}
            }
        },
        "message.Failure": {
            "type": "object",
            "properties": {
                "kind": {"type": "string"},
                "reason": {"type": "string"},
                "segment_index": {"type": "integer"}
            }
        },
        "message.JobStatus": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "state": {"type": "string", "enum": ["queued", "processing", "completed", "error", "cancelled"]},
                "progress": {"type": "integer"},
                "phase": {"type": "string"},
                "message": {"type": "string"},
                "engine_requested": {"type": "string"},
                "engines_used": {"type": "array", "items": {"type": "string"}},
                "warnings": {"type": "array", "items": {"type": "string"}},
                "failure": {"$ref": "#/definitions/message.Failure"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "audio_url": {"type": "string"}
            }
        },
        "message.EngineStatus": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "enabled": {"type": "boolean"},
                "available": {"type": "boolean"},
                "default": {"type": "boolean"},
                "error": {"type": "string"},
                "checked_at": {"type": "string"}
            }
        },
        "message.EnginesResponse": {
            "type": "object",
            "properties": {
                "engines": {"type": "array", "items": {"$ref": "#/definitions/message.EngineStatus"}}
            }
        },
        "message.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "dialogcast job API",
	Description:      "Submit dialogue scripts, follow rendering jobs and download the assembled podcast audio.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
