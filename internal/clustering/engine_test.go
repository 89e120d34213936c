package clustering_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"suarawarga/backend/internal/analysis"
	"suarawarga/backend/internal/clustering"
	"suarawarga/backend/internal/llm"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/storage"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newStore(t *testing.T) *storage.Service {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	s := storage.NewStorageService(db, nil, logger.NewNop())
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type countingNamer struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNamer) NameCluster(_ context.Context, samples []llm.Sample) llm.ClusterName {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return llm.SyntheticClusterName(samples)
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, errors.New("redis down")
}

func store(t *testing.T, s *storage.Service, category models.Category, region, text string, tags ...string) *models.Complaint {
	t.Helper()
	c := &models.Complaint{
		AuthorID:       "author",
		Title:          "t",
		RawText:        text,
		NormalizedText: text,
		Category:       category,
		Urgency:        models.UrgencyMedium,
		Sentiment:      models.SentimentNegative,
		Tags:           models.StringList(tags),
		Region:         region,
	}
	require.NoError(t, s.CreateComplaint(context.Background(), c))
	return c
}

func TestAssign_CreateThenJoin(t *testing.T) {
	s := newStore(t)
	namer := &countingNamer{}
	e := clustering.NewEngine(s, namer, storage.NewLocalLease(), clustering.Options{}, logger.NewNop(), nil)
	ctx := context.Background()

	first := store(t, s, models.CategoryInfrastructure, "Jakarta", "jalan rusak berlubang depan sekolah", "jalan-rusak", "sekolah", "lubang")
	a1, err := e.Assign(ctx, first)
	require.NoError(t, err)
	assert.True(t, a1.Created)
	assert.Equal(t, analysis.DecisionCreateNew, a1.Decision)

	cluster, err := s.GetCluster(ctx, a1.ClusterID)
	require.NoError(t, err)
	assert.Equal(t, "Infrastructure - Jakarta", cluster.Name)
	assert.Equal(t, models.CategoryInfrastructure, cluster.Category)
	assert.Equal(t, 1, cluster.MemberCount)

	second := store(t, s, models.CategoryInfrastructure, "Jakarta", "jalan rusak berlubang depan sekolah dasar", "jalan-rusak", "sekolah", "lubang")
	a2, err := e.Assign(ctx, second)
	require.NoError(t, err)
	assert.False(t, a2.Created)
	assert.Equal(t, a1.ClusterID, a2.ClusterID)
	assert.Equal(t, analysis.DecisionMustJoin, a2.Decision)
	assert.Equal(t, 100, a2.Score)
	require.NotNil(t, second.ClusterID)

	cluster, err = s.GetCluster(ctx, a1.ClusterID)
	require.NoError(t, err)
	assert.Equal(t, 2, cluster.MemberCount)
	assert.Equal(t, 1, namer.calls, "joining does not name a cluster")
}

func TestAssign_WeakMatchCreatesNew(t *testing.T) {
	s := newStore(t)
	e := clustering.NewEngine(s, &countingNamer{}, storage.NewLocalLease(), clustering.Options{}, logger.NewNop(), nil)
	ctx := context.Background()

	first := store(t, s, models.CategoryHealth, "Medan", "obat habis di puskesmas", "obat")
	a1, err := e.Assign(ctx, first)
	require.NoError(t, err)

	// same category only: 40 points
	other := store(t, s, models.CategoryHealth, "Makassar", "dokter jaga tidak datang", "dokter")
	a2, err := e.Assign(ctx, other)
	require.NoError(t, err)
	assert.True(t, a2.Created)
	assert.NotEqual(t, a1.ClusterID, a2.ClusterID)
	assert.Equal(t, 40, a2.Score)
}

func TestAssign_NeverJoinsOtherCategory(t *testing.T) {
	s := newStore(t)
	e := clustering.NewEngine(s, &countingNamer{}, storage.NewLocalLease(), clustering.Options{}, logger.NewNop(), nil)
	ctx := context.Background()

	edu := store(t, s, models.CategoryEducation, "Bandung", "sekolah rusak", "sekolah", "atap", "bocor")
	a1, err := e.Assign(ctx, edu)
	require.NoError(t, err)

	infra := store(t, s, models.CategoryInfrastructure, "Bandung", "sekolah rusak", "sekolah", "atap", "bocor")
	a2, err := e.Assign(ctx, infra)
	require.NoError(t, err)
	assert.True(t, a2.Created)
	assert.NotEqual(t, a1.ClusterID, a2.ClusterID)
}

func TestAssign_StrictRegionWindow(t *testing.T) {
	s := newStore(t)
	e := clustering.NewEngine(s, &countingNamer{}, storage.NewLocalLease(), clustering.Options{StrictRegion: true}, logger.NewNop(), nil)
	ctx := context.Background()

	a1, err := e.Assign(ctx, store(t, s, models.CategoryEnvironment, "Bogor", "banjir rob", "banjir", "rob", "air"))
	require.NoError(t, err)
	a2, err := e.Assign(ctx, store(t, s, models.CategoryEnvironment, "Depok", "banjir rob", "banjir", "rob", "air"))
	require.NoError(t, err)

	// 40+20+15 would join, but Bogor is outside Depok's window
	assert.True(t, a2.Created)
	assert.NotEqual(t, a1.ClusterID, a2.ClusterID)
}

func TestAssign_ConcurrentCreatesOneCluster(t *testing.T) {
	s := newStore(t)
	e := clustering.NewEngine(s, &countingNamer{}, storage.NewLocalLease(), clustering.Options{}, logger.NewNop(), nil)
	ctx := context.Background()

	const n = 6
	var complaints []*models.Complaint
	for i := 0; i < n; i++ {
		complaints = append(complaints, store(t, s, models.CategorySecurity, "Semarang", "pencurian motor di parkiran pasar", "pencurian", "motor", "pasar"))
	}

	var wg sync.WaitGroup
	ids := make([]string, n)
	for i, c := range complaints {
		wg.Add(1)
		go func(i int, c *models.Complaint) {
			defer wg.Done()
			a, err := e.Assign(ctx, c)
			assert.NoError(t, err)
			ids[i] = a.ClusterID
		}(i, c)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	clusters, err := s.ListClusters(ctx, storage.ClusterFilter{Category: models.CategorySecurity})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, n, clusters[0].MemberCount)
}

func TestAssign_LeaseFailureStillCreates(t *testing.T) {
	s := newStore(t)
	e := clustering.NewEngine(s, &countingNamer{}, failingLocker{}, clustering.Options{}, logger.NewNop(), nil)

	a, err := e.Assign(context.Background(), store(t, s, models.CategorySocial, "Aceh", "bantuan sosial telat", "bansos"))
	require.NoError(t, err)
	assert.True(t, a.Created)
}

func TestAssign_AlreadyClustered(t *testing.T) {
	e := clustering.NewEngine(nil, &countingNamer{}, storage.NewLocalLease(), clustering.Options{}, logger.NewNop(), nil)
	id := "cluster-1"
	a, err := e.Assign(context.Background(), &models.Complaint{ClusterID: &id})
	require.NoError(t, err)
	assert.Equal(t, id, a.ClusterID)
}
