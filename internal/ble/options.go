package ble

// PairingOptions narrows discovery and declares which services the
// backend should request access to.
type PairingOptions struct {
	// NamePrefix restricts discovery to peripherals whose advertised name
	// starts with it. Empty accepts any discoverable peripheral.
	NamePrefix string

	// OptionalServices lists service UUIDs to request access to.
	// Nil means the battery and generic-access services.
	OptionalServices []string
}

// DefaultOptionalServices returns the services requested when none are set.
func DefaultOptionalServices() []string {
	return []string{BatteryServiceUUID, GenericAccessServiceUUID}
}

// WithDefaults returns a copy of opts with unset fields filled in.
// A nil receiver is treated as the zero value.
func (o *PairingOptions) WithDefaults() PairingOptions {
	var out PairingOptions
	if o != nil {
		out.NamePrefix = o.NamePrefix
		out.OptionalServices = append([]string(nil), o.OptionalServices...)
	}
	if len(out.OptionalServices) == 0 {
		out.OptionalServices = DefaultOptionalServices()
	}
	return out
}

// AcceptAll reports whether discovery should accept any peripheral.
func (o PairingOptions) AcceptAll() bool {
	return o.NamePrefix == ""
}
