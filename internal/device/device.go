package device

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
)

// Status is the reachability of a device as last observed by a probe.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Details is the descriptor a device returns from GET /api/device.
//
// Only the common fields are typed. Anything else the device reports is kept
// in Extra and written back verbatim, so persisting a record never loses data.
type Details struct {
	Arch     string  `json:"arch"`
	Hostname string  `json:"hostname"`
	OS       string  `json:"os"`
	Uptime   float64 `json:"uptime"`
	Username string  `json:"username"`
	CPU      string  `json:"cpu"`

	// Extra holds fields not modelled above, keyed by JSON name
	Extra map[string]json.RawMessage `json:"-"`
}

type detailsFields Details

func (f *detailsFields) members() map[string]any {
	return map[string]any{
		"arch":     &f.Arch,
		"hostname": &f.Hostname,
		"os":       &f.OS,
		"uptime":   &f.Uptime,
		"username": &f.Username,
		"cpu":      &f.CPU,
	}
}

// UnmarshalJSON decodes the typed fields and collects the rest into Extra.
// A known member whose value has another type is kept raw in Extra and its
// typed field stays zero.
func (d *Details) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	var fields detailsFields
	for key, ptr := range fields.members() {
		raw, ok := all[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, ptr); err == nil {
			delete(all, key)
		}
	}
	if len(all) == 0 {
		all = nil
	}

	*d = Details(fields)
	d.Extra = all
	return nil
}

// MarshalJSON encodes the typed fields merged with Extra. An Extra member
// named like a typed field is written only while that field is unset.
func (d Details) MarshalJSON() ([]byte, error) {
	fields := detailsFields(d)

	var shadow map[string]json.RawMessage
	members := fields.members()
	for key, raw := range d.Extra {
		if ptr, ok := members[key]; ok && reflect.ValueOf(ptr).Elem().IsZero() {
			if shadow == nil {
				shadow = make(map[string]json.RawMessage)
			}
			shadow[key] = raw
		}
	}

	data, err := mergeExtra(fields, d.Extra)
	if err != nil || len(shadow) == 0 {
		return data, err
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	maps.Copy(out, shadow)
	return json.Marshal(out)
}

// Get returns a raw extension field, or nil when the device did not send it.
func (d *Details) Get(key string) json.RawMessage {
	if d == nil || d.Extra == nil {
		return nil
	}
	return d.Extra[key]
}

// Clone returns a deep copy of the details.
func (d *Details) Clone() *Details {
	if d == nil {
		return nil
	}
	c := *d
	if d.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}

// Record is one entry of the device registry, keyed by Address.
type Record struct {
	Address string   `json:"address"`
	Status  Status   `json:"status"`
	Device  *Details `json:"device"`
}

// Online reports whether the last probe of the device succeeded.
func (r *Record) Online() bool {
	return r.Status == StatusOnline
}

// Valid reports whether the record carries both a key and a payload.
// Persisted entries failing this check are skipped on load.
func (r *Record) Valid() bool {
	return r.Address != "" && r.Device != nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Device = r.Device.Clone()
	return r
}

// String returns a one-line description of the record.
func (r Record) String() string {
	if r.Device == nil || r.Device.Hostname == "" {
		return fmt.Sprintf("%s [%s]", r.Address, r.Status)
	}
	return fmt.Sprintf("%s (%s) [%s]", r.Address, r.Device.Hostname, r.Status)
}

// BroadcastChannels is the body of GET /api/broadcast/data. The JSON key is
// spelled the way the device agent spells it.
type BroadcastChannels struct {
	Endpoints []string `json:"bordercast_endpoints"`
}
