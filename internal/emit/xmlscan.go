package emit

import (
	"compress/gzip"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/ddbj/dblink/internal/errs"
)

// scanElements streams every top-level element named tag out of the shard
// file at path, invoking handle once per occurrence. Same streaming
// token-loop shape as internal/dblink/extract's shard reader, grounded on
// the teacher's internal/parser/xml_parser.go; duplicated rather than
// imported because the emitter and the DBLink builder are independent
// consumers of shard files in the pipeline's DAG.
func scanElements(path, tag string, handle func(d *xml.Decoder, start xml.StartElement) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.E(errs.Op("emit.scanElements"), errs.KindResourceMissing, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errs.E(errs.Op("emit.scanElements"), errs.KindResourceMissing, err)
		}
		defer gz.Close()
		r = gz
	}

	d := xml.NewDecoder(r)
	d.Strict = false
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.E(errs.Op("emit.scanElements"), errs.KindParse, err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == tag {
			if err := handle(d, se); err != nil {
				return err
			}
		}
	}
}
