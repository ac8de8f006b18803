package mailbox

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/rotisserie/eris"
)

// MboxFetcher reads messages from an mbox file. It is used for offline runs
// and replays; the since filter is applied by the caller after parsing.
type MboxFetcher struct {
	Path string
}

// Fetch returns every message in the file.
func (f *MboxFetcher) Fetch(ctx context.Context, _ time.Time) ([]Raw, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open mbox")
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	var out []Raw
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, eris.Wrapf(err, "mbox message %d", idx)
		}

		data, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, eris.Wrapf(err, "mbox message %d read", idx)
		}
		out = append(out, Raw{ID: "mbox:" + strconv.Itoa(idx), Data: data})
	}
}
