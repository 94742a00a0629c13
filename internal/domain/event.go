// SPDX-License-Identifier: Apache-2.0

package domain

// Business event names fired by the surrounding application's write paths.
// Trigger types are free-form strings at the persistence layer; these
// constants cover the canonical mutations the app emits today.
const (
	EventProjectCreated     = "project_created"
	EventTaskCreated        = "task_created"
	EventTaskCompleted      = "task_completed"
	EventLeadCreated        = "lead_created"
	EventBookingCreated     = "booking_created"
	EventInvoicePaid        = "invoice_paid"
	EventFormSubmitted      = "form_submitted"
	EventVendorStatusChange = "vendor_status_changed"
)
