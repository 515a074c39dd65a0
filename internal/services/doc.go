// Package services sits between the HTTP handlers and the license
// components. It owns the cross-cutting work of each request: spans,
// metrics, structured logs and live feed events. Handlers stay thin and the
// license package stays free of transport concerns.
//
// LicenseService.Ingest is deliberately infallible: storefronts retry on
// non-2xx answers, so every ingestion outcome is reported inside the
// response envelope instead of through an error.
package services
