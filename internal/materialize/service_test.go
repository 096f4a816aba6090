package materialize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

type fakeJobs struct {
	repository.JobRepository
	job *entity.ExtractionJob
}

func (f *fakeJobs) GetByID(ctx context.Context, id int64) (*entity.ExtractionJob, error) {
	if f.job == nil || f.job.ID != id {
		return nil, common.NotFoundError(fmt.Sprintf("extraction job %d not found", id))
	}
	return f.job, nil
}

type fakeCandidates struct {
	repository.CandidateRepository
	cands []*entity.EntityCandidate
}

func (f *fakeCandidates) GetByIDs(ctx context.Context, ids []int64) ([]*entity.EntityCandidate, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*entity.EntityCandidate
	for _, c := range f.cands {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeTx struct {
	slugs      map[string]bool
	created    []*entity.CorpusEntity
	linked     map[int64]int64
	counted    int
	committed  bool
	rolledBack bool
	failSlug   string
	nextID     int64
}

func newFakeTx(taken ...string) *fakeTx {
	slugs := make(map[string]bool)
	for _, s := range taken {
		slugs[s] = true
	}
	return &fakeTx{slugs: slugs, linked: make(map[int64]int64)}
}

func (f *fakeTx) SlugExists(ctx context.Context, collectionID int64, slug string) (bool, error) {
	return f.slugs[slug], nil
}

func (f *fakeTx) CreateEntity(ctx context.Context, e *entity.CorpusEntity) error {
	if f.failSlug != "" && e.Slug == f.failSlug {
		return fmt.Errorf("slug %q in collection %d: %w", e.Slug, e.CollectionID, common.ErrSlugTaken)
	}
	f.nextID++
	e.ID = f.nextID
	f.slugs[e.Slug] = true
	f.created = append(f.created, e)
	return nil
}

func (f *fakeTx) MarkMaterialized(ctx context.Context, candidateID, entityID int64) error {
	f.linked[candidateID] = entityID
	return nil
}

func (f *fakeTx) AddEntitiesCreated(ctx context.Context, jobID int64, n int) error {
	f.counted += n
	return nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeEntities struct {
	repository.EntityRepository
	tx    *fakeTx
	began bool
}

func (f *fakeEntities) BeginMaterialization(ctx context.Context) (repository.MaterializationTx, error) {
	f.began = true
	return f.tx, nil
}

func testService(job *entity.ExtractionJob, cands []*entity.EntityCandidate, tx *fakeTx) (*Service, *fakeEntities) {
	ents := &fakeEntities{tx: tx}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(&fakeJobs{job: job}, &fakeCandidates{cands: cands}, ents, logger), ents
}

func completedJob(id, collectionID int64) *entity.ExtractionJob {
	return &entity.ExtractionJob{ID: id, CollectionID: collectionID, Status: constants.JobStatusCompleted}
}

func approvedCandidate(id, jobID int64, name string) *entity.EntityCandidate {
	return &entity.EntityCandidate{
		ID: id, JobID: jobID, Name: name,
		EntityType: constants.EntityTypePerson,
		Status:     constants.CandidateStatusApproved,
	}
}

func TestMaterializeCreatesEntities(t *testing.T) {
	jon := approvedCandidate(10, 1, "Jon Snow")
	jon.Aliases = []string{"Lord Snow"}
	jon.Description = "Bastard of Winterfell"
	jon.Attributes = entity.Attributes{Titles: []string{"Lord Commander"}}
	dany := approvedCandidate(11, 1, "Daenerys")

	tx := newFakeTx()
	svc, _ := testService(completedJob(1, 7), []*entity.EntityCandidate{jon, dany}, tx)

	ids, err := svc.Materialize(context.Background(), 1, []int64{10, 11}, 99)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	require.Len(t, tx.created, 2)

	first := tx.created[0]
	assert.Equal(t, int64(7), first.CollectionID)
	assert.Equal(t, constants.EntityTypePerson, first.EntityType)
	assert.Equal(t, "Jon Snow", first.Name)
	assert.Equal(t, "jon-snow", first.Slug)
	assert.Equal(t, []string{"Lord Snow"}, first.Aliases)
	assert.Equal(t, "Bastard of Winterfell", first.Description)
	assert.Equal(t, []string{"Lord Commander"}, first.Attributes.Titles)
	assert.Equal(t, int64(99), first.CreatedBy)
	require.NotNil(t, first.SourceCandidateID)
	assert.Equal(t, int64(10), *first.SourceCandidateID)

	assert.Equal(t, int64(1), tx.linked[10])
	assert.Equal(t, int64(2), tx.linked[11])
	assert.Equal(t, 2, tx.counted)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestMaterializeSlugCollisionGetsSuffix(t *testing.T) {
	cand := approvedCandidate(10, 1, "Jon Snow")
	tx := newFakeTx("jon-snow", "jon-snow-2")
	svc, _ := testService(completedJob(1, 7), []*entity.EntityCandidate{cand}, tx)

	_, err := svc.Materialize(context.Background(), 1, []int64{10}, 99)
	require.NoError(t, err)
	require.Len(t, tx.created, 1)
	assert.Equal(t, "jon-snow-3", tx.created[0].Slug)
}

func TestMaterializeSameNameInBatch(t *testing.T) {
	a := approvedCandidate(10, 1, "Arya")
	b := approvedCandidate(11, 1, "Arya")
	tx := newFakeTx()
	svc, _ := testService(completedJob(1, 7), []*entity.EntityCandidate{a, b}, tx)

	_, err := svc.Materialize(context.Background(), 1, []int64{10, 11}, 99)
	require.NoError(t, err)
	require.Len(t, tx.created, 2)
	assert.Equal(t, "arya", tx.created[0].Slug)
	assert.Equal(t, "arya-2", tx.created[1].Slug)
}

func TestMaterializeRequiresCompletedJob(t *testing.T) {
	job := completedJob(1, 7)
	job.Status = constants.JobStatusProcessing
	svc, ents := testService(job, nil, newFakeTx())

	_, err := svc.Materialize(context.Background(), 1, []int64{10}, 99)
	require.Error(t, err)
	assert.Equal(t, common.CodeState, common.CodeOf(err))
	assert.False(t, ents.began, "no transaction may be opened for a non-completed job")
}

func TestMaterializeRejectsUnapprovedCandidate(t *testing.T) {
	pending := approvedCandidate(10, 1, "Jon Snow")
	pending.Status = constants.CandidateStatusPending
	svc, ents := testService(completedJob(1, 7), []*entity.EntityCandidate{pending}, newFakeTx())

	_, err := svc.Materialize(context.Background(), 1, []int64{10}, 99)
	var me *common.MaterializationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, int64(10), me.CandidateID)
	assert.Equal(t, "Jon Snow", me.CandidateName)
	assert.Contains(t, me.Reason, "pending")
	assert.False(t, ents.began)
}

func TestMaterializeRejectsForeignCandidate(t *testing.T) {
	other := approvedCandidate(10, 2, "Jon Snow")
	svc, ents := testService(completedJob(1, 7), []*entity.EntityCandidate{other}, newFakeTx())

	_, err := svc.Materialize(context.Background(), 1, []int64{10}, 99)
	var me *common.MaterializationError
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Reason, "job 2")
	assert.False(t, ents.began)
}

func TestMaterializeUnknownCandidate(t *testing.T) {
	svc, _ := testService(completedJob(1, 7), nil, newFakeTx())

	_, err := svc.Materialize(context.Background(), 1, []int64{404}, 99)
	require.Error(t, err)
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
}

func TestMaterializeRollsBackWholeBatch(t *testing.T) {
	a := approvedCandidate(10, 1, "Jon Snow")
	b := approvedCandidate(11, 1, "Bran")
	tx := newFakeTx()
	tx.failSlug = "bran"
	svc, _ := testService(completedJob(1, 7), []*entity.EntityCandidate{a, b}, tx)

	ids, err := svc.Materialize(context.Background(), 1, []int64{10, 11}, 99)
	assert.Nil(t, ids)

	var me *common.MaterializationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, int64(11), me.CandidateID)
	assert.Contains(t, me.Reason, `"bran"`)
	assert.ErrorIs(t, err, common.ErrSlugTaken)

	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	assert.Zero(t, tx.counted)
}

func TestMaterializeEmptyBatch(t *testing.T) {
	svc, _ := testService(completedJob(1, 7), nil, newFakeTx())
	_, err := svc.Materialize(context.Background(), 1, nil, 99)
	require.Error(t, err)
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))
}

func TestMaterializeCollapsesRepeatedIDs(t *testing.T) {
	cand := approvedCandidate(10, 1, "Jon Snow")
	tx := newFakeTx()
	svc, _ := testService(completedJob(1, 7), []*entity.EntityCandidate{cand}, tx)

	ids, err := svc.Materialize(context.Background(), 1, []int64{10, 10, 10}, 99)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
	assert.Len(t, tx.created, 1)
}
