package rpc

import (
	"time"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
)

type ListRequest struct {
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

type ListResponse struct {
	IDs []remote.FileID `json:"ids"`
}

type IDRequest struct {
	ID remote.FileID `json:"id"`
}

type IDResponse struct {
	ID remote.FileID `json:"id"`
}

type PayloadResponse struct {
	Data      []byte `json:"data"`
	MediaType string `json:"media_type,omitempty"`
}

type UploadLinkedDataRequest struct {
	Records []lds.LinkedData `json:"records"`
	Created time.Time        `json:"created"`
}

type UploadResourceRequest struct {
	Data      []byte   `json:"data"`
	Hash      lds.Hash `json:"hash"`
	MediaType string   `json:"media_type,omitempty"`
	Name      string   `json:"name,omitempty"`
}

type ResourcesRequest struct {
	Hashes []lds.Hash `json:"hashes"`
}

type ResourcesResponse struct {
	Found map[lds.Hash]remote.FileID `json:"found"`
}

type Empty struct{}
