// Command coupon-import loads coupon definitions from gzipped JSON-lines
// files into the storefront database.
//
// Every line is one coupon object in the storefront wire format. A code
// defined in more than one file is a conflict and is skipped; within one
// file the last definition wins.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/repository"
)

const (
	bloomFPR      = 0.001
	maxFiles      = bits.UintSize
	progressEvery = 100_000
	maxLineSize   = 64 << 10
)

// upserter persists coupon definitions.
type upserter interface {
	UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error
}

// fileScan holds what pass 2 found in a single file.
type fileScan struct {
	coupons    map[string]coupon.Coupon
	candidates map[string]uint
	invalid    int
}

// plan is the outcome of scanning all files.
type plan struct {
	coupons   []coupon.Coupon
	conflicts []string
	invalid   int
}

func main() {
	var (
		databaseURL   string
		batchSize     int
		bloomCapacity uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "coupons upserted per transaction")
	flag.UintVar(&bloomCapacity, "bloom-capacity", 1_000_000, "expected coupon codes per file")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: coupon-import [flags] coupons1.jsonl.gz [coupons2.jsonl.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, batchSize, bloomCapacity); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, batchSize int, capacity uint) error {
	p, err := scan(ctx, files, capacity)
	if err != nil {
		return err
	}

	slog.Info("scan complete",
		slog.Int("coupons", len(p.coupons)),
		slog.Int("conflicts", len(p.conflicts)),
		slog.Int("invalid", p.invalid),
	)
	for _, code := range p.conflicts {
		slog.Warn("skipping conflicting coupon", slog.String("code", code))
	}
	if len(p.coupons) == 0 {
		slog.Info("no coupons to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return write(ctx, repository.NewCouponRepository(pool), p.coupons, batchSize)
}

// scan reads every file twice: pass 1 builds a bloom filter of the codes
// of each file, pass 2 decodes the coupons and marks codes that another
// file's filter may contain. Codes marked by two or more files are
// confirmed conflicts.
func scan(ctx context.Context, files []string, capacity uint) (*plan, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("at most %d files can be imported at once, got %d", maxFiles, len(files))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, capacity)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: decoding coupons")

	scans, err := scanFiles(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "scan files")
	}

	return merge(scans), nil
}

func merge(scans []fileScan) *plan {
	var p plan
	masks := make(map[string]uint)
	for _, s := range scans {
		p.invalid += s.invalid
		for code, mask := range s.candidates {
			masks[code] |= mask
		}
	}
	for code, mask := range masks {
		if bits.OnesCount(mask) >= 2 {
			p.conflicts = append(p.conflicts, code)
		}
	}
	slices.Sort(p.conflicts)

	for _, s := range scans {
		for code, c := range s.coupons {
			if _, conflict := slices.BinarySearch(p.conflicts, code); conflict {
				continue
			}
			p.coupons = append(p.coupons, c)
		}
	}
	slices.SortFunc(p.coupons, func(a, b coupon.Coupon) int {
		return strings.Compare(a.Code, b.Code)
	})
	return &p
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count int

			if err := streamLines(ctx, path, func(line []byte) {
				code, err := codeOf(line)
				if err != nil || code == "" {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Int("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Int("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// scanFiles decodes every file and checks its codes against the OTHER
// files' bloom filters.
func scanFiles(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]fileScan, error) {
	scans := make([]fileScan, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			s := fileScan{
				coupons:    make(map[string]coupon.Coupon),
				candidates: make(map[string]uint),
			}
			fileBit := uint(1) << uint(i)
			var lineNo int

			if err := streamLines(ctx, path, func(line []byte) {
				lineNo++
				c, err := decodeLine(line)
				if err != nil {
					s.invalid++
					slog.Warn("skipping invalid coupon",
						slog.String("file", path),
						slog.Int("line", lineNo),
						slog.String("error", err.Error()),
					)
					return
				}
				s.coupons[c.Code] = c

				for j, f := range filters {
					if j != i && f.TestString(c.Code) {
						s.candidates[c.Code] |= fileBit
						break
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan file %d", i+1)
			}

			slog.Info("pass 2 complete",
				slog.Int("file", i+1),
				slog.Int("coupons", len(s.coupons)),
				slog.Int("candidates", len(s.candidates)),
				slog.Int("invalid", s.invalid),
			)
			scans[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scans, nil
}

// codeOf extracts the normalized code of a coupon line without decoding
// the rest of it.
func codeOf(line []byte) (string, error) {
	var code string
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "code" {
			return d.Skip()
		}
		v, err := d.Str()
		code = v
		return err
	})
	return coupon.NormalizeCode(code), err
}

func decodeLine(line []byte) (coupon.Coupon, error) {
	c, err := backend.DecodeCoupon(jx.DecodeBytes(line))
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "decode")
	}
	c.Code = coupon.NormalizeCode(c.Code)
	if err := c.Validate(); err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

// streamLines opens a gzip-compressed file and calls fn for each non-empty
// line.
func streamLines(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if line := scanner.Bytes(); len(line) > 0 {
			fn(line)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// write upserts coupons in batches of batchSize.
func write(ctx context.Context, repo upserter, coupons []coupon.Coupon, batchSize int) error {
	if len(coupons) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(coupons)
	}
	slog.Info("writing coupons to database", slog.Int("count", len(coupons)))

	written := 0
	for batch := range slices.Chunk(coupons, batchSize) {
		if err := repo.UpsertBatch(ctx, batch); err != nil {
			return errors.Wrapf(err, "upsert batch at %d", written)
		}
		written += len(batch)
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(coupons)))
	}
	return nil
}
