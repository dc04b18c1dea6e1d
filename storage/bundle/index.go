package bundle

import (
	"encoding/json"

	"github.com/ipfs/go-cid"

	"tdln.foundry/receipts/cidutil"
)

// Index describes a bundle's blocks. It is advisory only.
type Index struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cidCodec"`
	Multihash string       `json:"multihash"`
	Blocks    []IndexBlock `json:"blocks"`
	Labels    []IndexLabel `json:"labels,omitempty"`
}

type IndexBlock struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

type IndexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

// Label returns the CID recorded for name.
func (idx *Index) Label(name string) (cid.Cid, bool) {
	if idx == nil {
		return cid.Undef, false
	}
	for _, l := range idx.Labels {
		if l.Name != name {
			continue
		}
		id, err := cid.Decode(l.CID)
		if err != nil {
			return cid.Undef, false
		}
		return id, true
	}
	return cid.Undef, false
}

func parseIndex(b []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, cidutil.ParseError(IndexName, "malformed bundle index", err)
	}
	return &idx, nil
}
