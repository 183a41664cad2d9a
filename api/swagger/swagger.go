package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "School Bulletin API",
        "description": "Student records, grades and period report cards.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Login, token refresh and sessions"},
        {"name": "Students", "description": "Enrollment and per-student views"},
        {"name": "Grades", "description": "Marks out of 20"},
        {"name": "Reports", "description": "Period bulletins"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/Envelope"}},
                    "403": {"description": "Account inactive", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Rotate the token pair",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefreshTokenRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}},
                    "401": {"description": "Unknown, expired or revoked token", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/grades": {
            "get": {
                "tags": ["Grades"],
                "summary": "List grades",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "subject_id", "in": "query", "type": "string"},
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "period", "in": "query", "type": "string"},
                    {"name": "school_year", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            },
            "post": {
                "tags": ["Grades"],
                "summary": "Record a grade",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateGradeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Envelope"}},
                    "409": {"description": "Grade of this type already recorded", "schema": {"$ref": "#/definitions/Envelope"}},
                    "422": {"description": "Validation error", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/reports": {
            "get": {
                "tags": ["Reports"],
                "summary": "List bulletins",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "period", "in": "query", "type": "string"},
                    {"name": "school_year", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            },
            "post": {
                "tags": ["Reports"],
                "summary": "Generate a bulletin",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateReportRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Envelope"}},
                    "409": {"description": "Bulletin already generated", "schema": {"$ref": "#/definitions/Envelope"}},
                    "422": {"description": "No grades for the period", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/reports/download/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a bulletin through a signed link",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF"},
                    "401": {"description": "Expired or tampered link", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/students/{id}/reports/{period}/download": {
            "get": {
                "tags": ["Students"],
                "summary": "Download the bulletin of a student",
                "security": [{"BearerAuth": []}],
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "period", "in": "path", "required": true, "type": "string"},
                    {"name": "school_year", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF"},
                    "403": {"description": "Not the caller's child", "schema": {"$ref": "#/definitions/Envelope"}},
                    "404": {"description": "No bulletin", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "RefreshTokenRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            },
            "required": ["refresh_token"]
        },
        "CreateGradeRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "value": {"type": "number", "minimum": 0, "maximum": 20},
                "type": {"type": "string", "enum": ["HOMEWORK", "EXAM", "QUIZ", "ORAL"]},
                "period": {"type": "string", "enum": ["TRIMESTER_1", "TRIMESTER_2", "TRIMESTER_3", "SEMESTER_1", "SEMESTER_2"]},
                "comment": {"type": "string"}
            },
            "required": ["student_id", "subject_id", "value", "type", "period"]
        },
        "GenerateReportRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "period": {"type": "string", "enum": ["TRIMESTER_1", "TRIMESTER_2", "TRIMESTER_3", "SEMESTER_1", "SEMESTER_2"]},
                "school_year": {"type": "string", "example": "2024-2025"}
            },
            "required": ["student_id", "period"]
        },
        "Report": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "student_id": {"type": "string"},
                "class_id": {"type": "string"},
                "period": {"type": "string"},
                "school_year": {"type": "string"},
                "overall_average": {"type": "number"},
                "rank": {"type": "integer"},
                "class_size": {"type": "integer"},
                "mention": {"type": "string"},
                "appreciation": {"type": "string"},
                "issued_at": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "Envelope": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["success", "error"]},
                "message": {"type": "string"},
                "code": {"type": "string"},
                "data": {"type": "object"},
                "errors": {"type": "object", "additionalProperties": {"type": "array", "items": {"type": "string"}}},
                "pagination": {"$ref": "#/definitions/Pagination"}
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
