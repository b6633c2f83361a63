package storage

import (
	"slices"
	"time"
)

// UserRecord is everything persisted for one vault owner.
type UserRecord struct {
	PasswordVerifier []byte      `json:"passwordVerifier"`
	Salt             []byte      `json:"salt"`
	IV               []byte      `json:"iv"`
	Files            []string    `json:"files"`
	Devices          []Device    `json:"devices"`
	Locked           bool        `json:"locked"`
	Pending          *Transition `json:"pending,omitempty"`
	Created          time.Time   `json:"created"`
	Modified         time.Time   `json:"modified"`
}

// Transition marks a lock or unlock that may have rewritten some tracked
// files but not all of them. While it is set, the Locked flag does not
// describe the files on disk.
type Transition struct {
	Locked  bool      `json:"locked"` // target state
	IV      []byte    `json:"iv"`
	Check   []byte    `json:"check"` // empty stream sealed under the vault key
	Started time.Time `json:"started"`
}

// Device is a companion device authorised by a REGISTER handshake.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	PublicKey []byte    `json:"publicKey"`
	Paired    time.Time `json:"paired"`
}

// NewUserRecord creates a locked record with no files or devices.
func NewUserRecord(verifier, salt, iv []byte) *UserRecord {
	now := time.Now()
	return &UserRecord{
		PasswordVerifier: verifier,
		Salt:             salt,
		IV:               iv,
		Files:            make([]string, 0),
		Devices:          make([]Device, 0),
		Locked:           true,
		Created:          now,
		Modified:         now,
	}
}

// Clone returns a deep copy of the record.
func (r *UserRecord) Clone() *UserRecord {
	c := *r
	c.PasswordVerifier = slices.Clone(r.PasswordVerifier)
	c.Salt = slices.Clone(r.Salt)
	c.IV = slices.Clone(r.IV)
	c.Files = slices.Clone(r.Files)
	if r.Pending != nil {
		p := *r.Pending
		p.IV = slices.Clone(p.IV)
		p.Check = slices.Clone(p.Check)
		c.Pending = &p
	}
	c.Devices = make([]Device, len(r.Devices))
	for i, d := range r.Devices {
		d.PublicKey = slices.Clone(d.PublicKey)
		c.Devices[i] = d
	}
	return &c
}

// AddFile appends path to the tracked set. It reports false, and changes
// nothing, when the path is already tracked.
func (r *UserRecord) AddFile(path string) bool {
	if r.HasFile(path) {
		return false
	}
	r.Files = append(r.Files, path)
	r.Modified = time.Now()
	return true
}

// RemoveFile removes path from the tracked set
func (r *UserRecord) RemoveFile(path string) bool {
	i := slices.Index(r.Files, path)
	if i < 0 {
		return false
	}
	r.Files = slices.Delete(r.Files, i, i+1)
	r.Modified = time.Now()
	return true
}

// HasFile reports whether path is tracked
func (r *UserRecord) HasFile(path string) bool {
	return slices.Contains(r.Files, path)
}

// AddDevice registers a device unless one with the same ID exists.
func (r *UserRecord) AddDevice(d Device) bool {
	if r.FindDevice(d.ID) != nil {
		return false
	}
	r.Devices = append(r.Devices, d)
	r.Modified = time.Now()
	return true
}

// RemoveDevice revokes a paired device.
func (r *UserRecord) RemoveDevice(id string) bool {
	i := slices.IndexFunc(r.Devices, func(d Device) bool { return d.ID == id })
	if i < 0 {
		return false
	}
	r.Devices = slices.Delete(r.Devices, i, i+1)
	r.Modified = time.Now()
	return true
}

// FindDevice finds a paired device by ID
func (r *UserRecord) FindDevice(id string) *Device {
	for i := range r.Devices {
		if r.Devices[i].ID == id {
			return &r.Devices[i]
		}
	}
	return nil
}
