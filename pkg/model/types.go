package model

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Link is a CID column. The zero value marshals to the empty string.
type Link struct {
	cidlink.Link
}

func NewLink(c cid.Cid) Link {
	return Link{cidlink.Link{Cid: c}}
}

func (l Link) MarshalJSON() ([]byte, error) {
	if l == (Link{}) {
		return json.Marshal("")
	}
	return json.Marshal(l.String())
}

func (l *Link) UnmarshalJSON(b []byte) error {
	var str string
	err := json.Unmarshal(b, &str)
	if err != nil {
		return fmt.Errorf("parsing string: %w", err)
	}
	if str == "" {
		return nil
	}
	c, err := cid.Decode(str)
	if err != nil {
		return fmt.Errorf("parsing CID: %w", err)
	}
	*l = NewLink(c)
	return nil
}

// Multihash is a content digest column, rendered base58btc.
type Multihash struct {
	multihash.Multihash
}

func (mh Multihash) MarshalJSON() ([]byte, error) {
	if len(mh.Multihash) == 0 {
		return json.Marshal("")
	}
	str, err := multibase.Encode(multibase.Base58BTC, mh.Multihash)
	if err != nil {
		return nil, fmt.Errorf("multibase encoding: %w", err)
	}
	return json.Marshal(str)
}

func (mh *Multihash) UnmarshalJSON(b []byte) error {
	var str string
	err := json.Unmarshal(b, &str)
	if err != nil {
		return fmt.Errorf("parsing string: %w", err)
	}
	if str == "" {
		return nil
	}
	_, bytes, err := multibase.Decode(str)
	if err != nil {
		return fmt.Errorf("multibase decoding: %w", err)
	}
	digest, err := multihash.Cast(bytes)
	if err != nil {
		return fmt.Errorf("decoding multihash: %w", err)
	}
	*mh = Multihash{digest}
	return nil
}

type Error struct {
	Message string
}

func (e Error) Error() string {
	return e.Message
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Error())
}

func (e *Error) UnmarshalJSON(b []byte) error {
	var str string
	err := json.Unmarshal(b, &str)
	if err != nil {
		return nil
	}
	*e = Error{str}
	return nil
}
