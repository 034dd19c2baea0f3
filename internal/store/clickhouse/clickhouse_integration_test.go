package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/suite"
	tcClickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/SakshamSinghal20/Whisper/internal/metrics"
	"github.com/SakshamSinghal20/Whisper/internal/store"
)

const clickhouseImage = "clickhouse/clickhouse-server:25.11"

type RepositorySuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	container *tcClickhouse.ClickHouseContainer
	dsn       string
	repo      *Repository
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)

	container, err := tcClickhouse.Run(s.ctx,
		clickhouseImage,
		tcClickhouse.WithUsername("default"),
		tcClickhouse.WithDatabase("default"),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx)
	s.Require().NoError(err)
	s.dsn = dsn
}

func (s *RepositorySuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *RepositorySuite) SetupTest() {
	s.Require().NoError(applyMigrationsUp(s.dsn))

	repo, err := NewRepository(s.dsn, metrics.NewStore())
	s.Require().NoError(err)
	s.repo = repo
}

func (s *RepositorySuite) TearDownTest() {
	s.Require().NoError(applyMigrationsDown(s.dsn))
}

func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}
	for {
		if _, statErr := os.Stat(filepath.Join(dir, "go.mod")); statErr == nil {
			return dir, nil
		}
		next := filepath.Dir(dir)
		if next == dir {
			return "", fmt.Errorf("go.mod not found from %s", dir)
		}
		dir = next
	}
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	root, err := moduleRoot()
	if err != nil {
		return nil, err
	}
	sourceURL := fmt.Sprintf("file://%s", filepath.Join(root, "migrations", "clickhouse"))
	m, err := migrate.New(sourceURL, withMultiStatement(dsn))
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

func withMultiStatement(dsn string) string {
	if strings.Contains(dsn, "x-multi-statement=") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "x-multi-statement=true"
}

func applyMigrationsUp(dsn string) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func applyMigrationsDown(dsn string) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func closeMigrator(m *migrate.Migrate) {
	if m == nil {
		return
	}
	_, _ = m.Close()
}

func fixedBytes(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func testBlock(height uint32, hashByte byte) store.IndexedBlock {
	var block store.IndexedBlock
	block.Height = height
	copy(block.Hash[:], fixedBytes(32, hashByte))
	copy(block.Header[:], fixedBytes(80, hashByte))
	return block
}

func testOutput(height uint32, txidByte byte, vout uint32) store.IndexedOutput {
	var out store.IndexedOutput
	copy(out.TxID[:], fixedBytes(32, txidByte))
	out.Vout = vout
	out.BlockHeight = height
	out.ScriptPubKey[0] = 0x51
	out.ScriptPubKey[1] = 0x20
	copy(out.ScriptPubKey[2:], fixedBytes(32, txidByte))
	out.Amount = 1000
	copy(out.XOnlyKey[:], fixedBytes(32, txidByte))
	out.Fingerprint = uint32(txidByte)<<24 | uint32(txidByte)<<16 | uint32(txidByte)<<8 | uint32(txidByte)
	return out
}

func (s *RepositorySuite) TestInsertBlockIsIdempotent() {
	block := testBlock(1, 0xAA)
	out := testOutput(1, 0x11, 0)

	s.Require().NoError(s.repo.InsertBlock(s.ctx, block, nil, []store.IndexedOutput{out}))
	// Re-inserting the same height/hash is a no-op, not a conflict.
	s.Require().NoError(s.repo.InsertBlock(s.ctx, block, nil, []store.IndexedOutput{out}))

	tip, err := s.repo.TipHeight(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint32(1), tip)
}

func (s *RepositorySuite) TestInsertBlockConflictOnDifferentHash() {
	block := testBlock(2, 0xAA)
	s.Require().NoError(s.repo.InsertBlock(s.ctx, block, nil, nil))

	conflicting := testBlock(2, 0xBB)
	err := s.repo.InsertBlock(s.ctx, conflicting, nil, nil)
	s.Require().Error(err)
}

func (s *RepositorySuite) TestQueryExcludesOrphanedBlocks() {
	block := testBlock(3, 0xCC)
	out := testOutput(3, 0x22, 0)
	s.Require().NoError(s.repo.InsertBlock(s.ctx, block, nil, []store.IndexedOutput{out}))

	results, scanned, err := s.repo.Query(s.ctx, store.Query{
		Fingerprints: []uint32{out.Fingerprint},
		StartHeight:  0,
		EndHeight:    10,
	})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Contains(scanned, uint32(3))

	s.Require().NoError(s.repo.MarkOrphan(s.ctx, 3))

	results, scanned, err = s.repo.Query(s.ctx, store.Query{
		Fingerprints: []uint32{out.Fingerprint},
		StartHeight:  0,
		EndHeight:    10,
	})
	s.Require().NoError(err)
	s.Empty(results)
	s.NotContains(scanned, uint32(3))
}

func (s *RepositorySuite) TestQueryReportsScannedBlocksWithNoMatchingOutputs() {
	block := testBlock(4, 0xDD)
	s.Require().NoError(s.repo.InsertBlock(s.ctx, block, nil, nil))

	results, scanned, err := s.repo.Query(s.ctx, store.Query{
		Fingerprints: []uint32{0xffffffff},
		StartHeight:  0,
		EndHeight:    10,
	})
	s.Require().NoError(err)
	s.Empty(results)
	s.Contains(scanned, uint32(4))
}

// TestReinsertAfterOrphanUnorphans covers spec.md:132's "an orphaned block
// can never return to persisted without re-ingestion": the version written
// on re-insert must outrank the version MarkOrphan already bumped, or
// ReplacingMergeTree keeps the stale orphaned row on FINAL/merge forever.
func (s *RepositorySuite) TestReinsertAfterOrphanUnorphans() {
	block := testBlock(5, 0xEE)
	out := testOutput(5, 0x33, 0)
	s.Require().NoError(s.repo.InsertBlock(s.ctx, block, nil, []store.IndexedOutput{out}))
	s.Require().NoError(s.repo.MarkOrphan(s.ctx, 5))

	tip, err := s.repo.TipHeight(s.ctx)
	s.Require().NoError(err)
	s.Zero(tip)

	s.Require().NoError(s.repo.InsertBlock(s.ctx, block, nil, []store.IndexedOutput{out}))

	tip, err = s.repo.TipHeight(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint32(5), tip)

	results, scanned, err := s.repo.Query(s.ctx, store.Query{
		Fingerprints: []uint32{out.Fingerprint},
		StartHeight:  0,
		EndHeight:    10,
	})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Contains(scanned, uint32(5))
}

func (s *RepositorySuite) TestMissingHeightsFindsGap() {
	s.Require().NoError(s.repo.InsertBlock(s.ctx, testBlock(0, 0x01), nil, nil))
	s.Require().NoError(s.repo.InsertBlock(s.ctx, testBlock(2, 0x02), nil, nil))

	missing, err := s.repo.MissingHeights(s.ctx, 2, 10)
	s.Require().NoError(err)
	s.Equal([]uint32{1}, missing)
}
