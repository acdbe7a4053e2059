package persistence

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Session records are stored in SQLite as deterministic CBOR. Times are
// encoded as RFC 3339 strings with nanoseconds so they survive a round
// trip exactly; the CBOR default of Unix seconds would truncate them.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("persistence: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Metadata values decode into map[string]interface{}, matching
		// what encoding/json produces for the same record.
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("persistence: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalRecord(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshalRecord(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}
