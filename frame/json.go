package frame

import (
	"github.com/go-faster/jx"
	"github.com/pkg/errors"
)

// DecodeRecords decodes a flat JSON array of row objects.
func DecodeRecords(data []byte) ([]Record, error) {
	d := jx.DecodeBytes(data)
	var records []Record
	err := d.Arr(func(d *jx.Decoder) error {
		rec, err := decodeRecord(d)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode records payload")
	}
	return records, nil
}

// DecodeFeatureProperties decodes a geojson feature collection, keeping the
// properties object of each feature.
func DecodeFeatureProperties(data []byte) ([]Record, error) {
	d := jx.DecodeBytes(data)
	var records []Record
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "features" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			found := false
			err := d.Obj(func(d *jx.Decoder, key string) error {
				if key != "properties" {
					return d.Skip()
				}
				rec, err := decodeRecord(d)
				if err != nil {
					return err
				}
				records = append(records, rec)
				found = true
				return nil
			})
			if err != nil {
				return err
			}
			if !found {
				records = append(records, Record{})
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode geojson payload")
	}
	return records, nil
}

func decodeRecord(d *jx.Decoder) (Record, error) {
	rec := Record{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := decodeScalar(d)
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		rec[key] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// decodeScalar keeps strings, numbers, booleans and nulls as native values;
// nested objects and arrays (Socrata location/geometry columns) are kept as
// their raw JSON text.
func decodeScalar(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		return d.Float64()
	case jx.Bool:
		return d.Bool()
	case jx.Null:
		return nil, d.Null()
	default:
		raw, err := d.Raw()
		if err != nil {
			return nil, err
		}
		return raw.String(), nil
	}
}
