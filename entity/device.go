package entity

// Device is a launcher client binding. Records are marked disconnected,
// never deleted, so polling clients can observe the force_disconnect flag.
type Device struct {
	DeviceId         string `json:"device_id" bson:"device_id"`
	DeviceName       string `json:"device_name" bson:"device_name"`
	DeviceOs         string `json:"device_os" bson:"device_os"`
	FirstConnection  string `json:"first_connection" bson:"first_connection"`
	LastConnection   string `json:"last_connection" bson:"last_connection"`
	Disconnected     bool   `json:"disconnected,omitempty" bson:"disconnected,omitempty"`
	ForceDisconnect  bool   `json:"force_disconnect,omitempty" bson:"force_disconnect,omitempty"`
	DisconnectReason string `json:"disconnect_reason,omitempty" bson:"disconnect_reason,omitempty"`
	DisconnectedAt   string `json:"disconnected_at,omitempty" bson:"disconnected_at,omitempty"`
	CodeChanged      bool   `json:"code_changed,omitempty" bson:"code_changed,omitempty"`

	// view-only flags filled by the device list endpoint
	IsPrimary bool `json:"is_primary,omitempty" bson:"-"`
	IsActive  bool `json:"is_active,omitempty" bson:"-"`
}

// PrimaryDevice is the single device id permitted to use a launcher code
// after first binding.
type PrimaryDevice struct {
	DeviceId     string `json:"device_id" bson:"device_id"`
	DeviceName   string `json:"device_name" bson:"device_name"`
	DeviceOs     string `json:"device_os" bson:"device_os"`
	RegisteredAt string `json:"registered_at" bson:"registered_at"`
}

// DeviceReset is one entry of the primary-device reset audit trail,
// used to enforce the 7-day rolling reset window.
type DeviceReset struct {
	Date       string `json:"date" bson:"date"`
	DeviceId   string `json:"device_id" bson:"device_id"`
	DeviceName string `json:"device_name" bson:"device_name"`
	Action     string `json:"action" bson:"action"`
}
