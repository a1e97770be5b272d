package lds

// SyncRecord tracks whether a locally written record has reached the remote drive.
// It lives in a side table keyed by Hash,
// never inside the record itself.
type SyncRecord struct {
	Hash   Hash `json:"hash"`
	Kind   Kind `json:"kind"`
	Synced bool `json:"synced"`
}

// Origin tells the write path where a record came from.
type Origin int

const (
	// OriginLocal records are authored on this device and still need uploading.
	OriginLocal Origin = iota

	// OriginRemote records were downloaded and are already on the remote drive.
	OriginRemote
)
