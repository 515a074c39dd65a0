// Package http implements the HTTP handlers of the license service. Handlers
// stay thin: they decode and validate requests, call the service layer and
// render the result.
//
// # Endpoints
//
//	POST /api/license/webhook    storefront purchase notification
//	GET  /api/license/webhook    webhook liveness message
//	POST /api/license/activate   bind a license key to a user
//	GET  /api/license/check      entitlement for ?user_id=
//	GET  /api/health             liveness
//	GET  /api/health/ready       readiness (503 when the store is down)
//	GET  /api/version            build information
//
// # Response Conventions
//
// The webhook always answers 200. Storefronts retry on any other status, so
// failures, oversized bodies included, are reported in the envelope:
//
//	{"success": false, "error": "MissingLicenseKey", "detail": "...", "received_fields": [...]}
//
// Activation and entitlement failures follow RFC 7807 Problem Details, with
// the taxonomy name in "error":
//
//	{
//	    "type": "/errors/license/already-claimed",
//	    "title": "License Already Claimed",
//	    "status": 409,
//	    "error": "LicenseAlreadyClaimed",
//	    "retriable": false,
//	    "success": false,
//	    "trace_id": "..."
//	}
//
// # Testing
//
// Handlers are tested with httptest against a mocked services.LicenseService.
package http
