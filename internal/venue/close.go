package venue

import "go.uber.org/multierr"

func closeTransports(ts ...Transport) error {
	var err error
	for _, t := range ts {
		if t != nil {
			err = multierr.Append(err, t.Close())
		}
	}
	return err
}
