package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LenteraID Transparency API",
        "description": "Public transparency and reporting backend for the foundation",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Authentication and session management"},
        {"name": "Users", "description": "Administrative user accounts"},
        {"name": "Programs", "description": "Community program management"},
        {"name": "Donations", "description": "Cash and in-kind donation records"},
        {"name": "Expenses", "description": "Expense records"},
        {"name": "Projects", "description": "Showcase projects with galleries and finance reports"},
        {"name": "Reports", "description": "Asynchronous report generation and download"},
        {"name": "Public", "description": "Unauthenticated transparency endpoints"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate a user",
                "responses": {
                    "200": {"description": "Tokens issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate a refresh token",
                "responses": {
                    "200": {"description": "Tokens rotated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports": {
            "get": {
                "tags": ["Reports"],
                "summary": "List report jobs",
                "responses": {
                    "200": {"description": "Jobs", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Reports"],
                "summary": "Request a report",
                "responses": {
                    "202": {"description": "Job accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Get a report job",
                "responses": {
                    "200": {"description": "Job", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Reports"],
                "summary": "Delete a report job",
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Job is processing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}/enqueue": {
            "post": {
                "tags": ["Reports"],
                "summary": "Enqueue or retry a report job",
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Queue unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/download/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a completed report by signed token",
                "responses": {
                    "200": {"description": "File stream"},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/summary": {
            "get": {
                "tags": ["Public"],
                "summary": "Aggregate transparency figures",
                "responses": {
                    "200": {"description": "Summary", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/programs": {
            "get": {
                "tags": ["Public"],
                "summary": "List published programs",
                "responses": {
                    "200": {"description": "Programs", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
