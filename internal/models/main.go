// Package models defines the core data structures shared between the
// invoicing client and server: invoices, users, settings and the
// pending-operation queue used by the offline sync engine.
package models

import (
	"encoding/json"
	"time"
)

// SettingsID is the fixed primary key of the settings singleton.
const SettingsID = "global-settings"

// SyncMeta carries the synchronization metadata embedded in every
// syncable entity. LastModified is the LWW clock: every mutation, local
// or remote, must bump it to "now" at the point of mutation.
type SyncMeta struct {
	// LastModified is the last-write-wins timestamp of the most recent mutation.
	LastModified time.Time `json:"lastModified"`
	// LastModifiedDevice identifies which client produced the last
	// mutation. Diagnostic only; never consulted for conflict resolution.
	LastModifiedDevice string `json:"lastModifiedDevice"`
	// Synced is true iff the local copy is known identical to the last
	// acknowledged server copy.
	Synced bool `json:"synced"`
	// PendingSync is true iff an operation for this entity currently
	// sits unacknowledged in the sync queue.
	PendingSync bool `json:"pendingSync"`
}

// Invoice is a transport weighing invoice.
type Invoice struct {
	ID                 string    `json:"id"`
	InvoiceNumber      string    `json:"invoiceNumber"`
	DriverName         string    `json:"driverName"`
	VehicleType        string    `json:"vehicleType"`
	VehicleNumber      string    `json:"vehicleNumber"`
	AllowedWeightTotal string    `json:"allowedWeightTotal"`
	Axles              string    `json:"axles"`
	AllowedLoadWeight  string    `json:"allowedLoadWeight"`
	Fee                float64   `json:"fee"`
	Penalty            float64   `json:"penalty"`
	EmptyWeight        string    `json:"emptyWeight"`
	Discount           float64   `json:"discount"`
	Overweight         string    `json:"overweight"`
	Type               string    `json:"type"`
	RouteOrRegion      string    `json:"routeOrRegion,omitempty"`
	PayableAmount      float64   `json:"payableAmount"`
	NetAmount          float64   `json:"netAmount"`
	Note               string    `json:"note,omitempty"`
	ScaleName          string    `json:"scaleName"`
	CreatedAt          time.Time `json:"createdAt"`
	SyncMeta
}

// UserRole is the set of valid user roles.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// Permission identifies a single user capability checked by the server
// on mutating endpoints.
type Permission string

const (
	PermViewInvoices      Permission = "view_invoices"
	PermCreateInvoice     Permission = "create_invoice"
	PermEditInvoice       Permission = "edit_invoice"
	PermDeleteInvoice     Permission = "delete_invoice"
	PermPrintInvoice      Permission = "print_invoice"
	PermDownloadInvoice   Permission = "download_invoice"
	PermExportData        Permission = "export_data"
	PermManageUsers       Permission = "manage_users"
	PermManagePermissions Permission = "manage_permissions"
)

// DefaultUserPermissions are granted to newly created non-admin users.
func DefaultUserPermissions() []Permission {
	return []Permission{PermViewInvoices, PermCreateInvoice, PermPrintInvoice}
}

// AdminPermissions is the full permission set.
func AdminPermissions() []Permission {
	return []Permission{
		PermViewInvoices, PermCreateInvoice, PermEditInvoice,
		PermDeleteInvoice, PermPrintInvoice, PermDownloadInvoice,
		PermExportData, PermManageUsers, PermManagePermissions,
	}
}

// HasPermission reports whether perms contains required.
func HasPermission(perms []Permission, required Permission) bool {
	for _, p := range perms {
		if p == required {
			return true
		}
	}
	return false
}

// User is an application user. Password holds the bcrypt hash; it is
// stripped from every server response.
type User struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Username    string       `json:"username"`
	Password    string       `json:"password,omitempty"`
	Role        UserRole     `json:"role"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"createdAt"`
	IsActive    bool         `json:"isActive"`
	SyncMeta
}

// PrinterPreferences holds per-installation print options.
type PrinterPreferences struct {
	DefaultPrinter string `json:"defaultPrinter,omitempty"`
	PaperSize      string `json:"paperSize,omitempty"` // "A4" or "A5"
}

// Settings is the global settings singleton, keyed by SettingsID.
type Settings struct {
	ID                  string              `json:"id"`
	DefaultScale        string              `json:"defaultScale"`
	Username            string              `json:"username"`
	InvoiceNumberFormat string              `json:"invoiceNumberFormat"`
	WeightUnit          string              `json:"weightUnit"` // "kg" or "ton"
	PrinterPreferences  *PrinterPreferences `json:"printerPreferences,omitempty"`
	SyncMeta
}

// OperationType classifies a pending operation.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// EntityKind names the collection a pending operation targets.
type EntityKind string

const (
	EntityInvoice  EntityKind = "invoice"
	EntityUser     EntityKind = "user"
	EntitySettings EntityKind = "settings"
)

// PendingOperation is a durable record of a not-yet-acknowledged
// mutation. ID is assigned by the local store (auto-increment, never
// reused); operations drain in ID order.
type PendingOperation struct {
	ID     int64         `json:"id"`
	Type   OperationType `json:"type"`
	Entity EntityKind    `json:"entity"`
	// Data is the full entity snapshot at enqueue time, or {"id": ...}
	// for deletes.
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Retries   int             `json:"retries"`
}

// InvoiceFilter narrows an invoice listing. Zero values mean "no
// constraint".
type InvoiceFilter struct {
	SearchTerm string
	StartDate  time.Time
	EndDate    time.Time
}
