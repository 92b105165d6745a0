package entity

// InstallRecord is the persisted state of the last successful sync.
type InstallRecord struct {
	InstallDirectory string    `json:"installDirectory"`
	Manifest         *Manifest `json:"manifest,omitempty"`
	MaxTransferRate  *uint64   `json:"maxTransferRate,omitempty"` // bytes/sec
}

// Installed reports whether a sync has ever been committed.
func (r *InstallRecord) Installed() bool {
	return r != nil && r.InstallDirectory != "" && r.Manifest != nil
}

/*
InstallUpdate is a partial write to the install record. Nil fields are left untouched.
A non-nil Manifest replaces the stored one in full.
*/
type InstallUpdate struct {
	InstallDirectory *string
	Manifest         *Manifest
	MaxTransferRate  *uint64
	ClearRate        bool
}

// Apply merges the update into a copy of rec.
func (u InstallUpdate) Apply(rec InstallRecord) InstallRecord {
	if u.InstallDirectory != nil {
		rec.InstallDirectory = *u.InstallDirectory
	}

	if u.Manifest != nil {
		m := *u.Manifest
		m.Files = append([]ManifestFile(nil), u.Manifest.Files...)
		rec.Manifest = &m
	}

	switch {
	case u.ClearRate:
		rec.MaxTransferRate = nil
	case u.MaxTransferRate != nil:
		rate := *u.MaxTransferRate
		rec.MaxTransferRate = &rate
	}

	return rec
}
