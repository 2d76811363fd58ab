package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/database/mock"
	"github.com/kozaktomas/attendance/internal/detector"
	"github.com/kozaktomas/attendance/internal/facematch"
)

const testDim = 128

// fakeDetector answers by image content.
type fakeDetector struct {
	mu    sync.Mutex
	faces map[string][]detector.Face
	errs  map[string]error
	calls int

	// onDetect runs before every detection, outside the detector lock
	onDetect func(image string)
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{
		faces: make(map[string][]detector.Face),
		errs:  make(map[string]error),
	}
}

func (f *fakeDetector) set(image string, descriptors ...facematch.Descriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	faces := make([]detector.Face, len(descriptors))
	for i, d := range descriptors {
		x := float64(i * 100)
		faces[i] = detector.Face{BBox: []float64{x, 10, x + 50, 60}, Descriptor: d, DetScore: 0.9}
	}
	f.faces[image] = faces
	delete(f.errs, image)
}

func (f *fakeDetector) fail(image string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[image] = err
}

func (f *fakeDetector) DetectFaces(ctx context.Context, data []byte) (*detector.Detection, error) {
	if f.onDetect != nil {
		f.onDetect(string(data))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[string(data)]; err != nil {
		return nil, err
	}
	return &detector.Detection{Width: 400, Height: 200, Faces: f.faces[string(data)]}, nil
}

// vec builds a testDim descriptor with the given leading values.
func vec(values ...float32) facematch.Descriptor {
	d := make(facematch.Descriptor, testDim)
	copy(d, values)
	return d
}

type fixture struct {
	svc    *Service
	det    *fakeDetector
	roster *mock.MockRoster
	ledger *mock.MockLedger
	photos *mock.MockPhotoStore
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	b, roster, ledger, photos := mock.NewBackend(50 * time.Millisecond)
	det := newFakeDetector()
	svc := New(b, det, Options{Tolerance: 0.5, Margin: 0.05, Policy: policy, Dim: testDim, Concurrency: 2})
	svc.Now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local) }
	return &fixture{svc: svc, det: det, roster: roster, ledger: ledger, photos: photos}
}

// seed creates "Class 5A" with S1 and S2 enrolled on one reference photo each.
func (f *fixture) seed(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	g, err := f.svc.CreateClass(ctx, "Class 5A")
	require.NoError(t, err)
	_, err = f.svc.UpsertStudents(ctx, g.ID, []database.PersonInput{
		{PersonID: "S1", Name: "Alice"},
		{PersonID: "S2", Name: "Bob"},
	})
	require.NoError(t, err)

	f.det.set("alice", vec(1, 0))
	f.det.set("bob", vec(0, 1))
	_, err = f.svc.AddPhotos(ctx, g.ID, "S1", []Upload{{Filename: "alice.jpg", Data: []byte("alice")}})
	require.NoError(t, err)
	_, err = f.svc.AddPhotos(ctx, g.ID, "S2", []Upload{{Filename: "bob.jpg", Data: []byte("bob")}})
	require.NoError(t, err)
	return g.ID
}

func TestRecognizeEndToEnd(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	f.det.set("group", vec(0.99, 0.02))

	rec, err := f.svc.Recognize(context.Background(), groupID, Upload{Filename: "group.jpg", Data: []byte("group")})
	require.NoError(t, err)

	require.Len(t, rec.Faces, 1)
	face := rec.Faces[0]
	if !face.Recognized || face.PersonID != "S1" || face.Name != "Alice" {
		t.Errorf("face = %+v, want S1/Alice", face)
	}
	require.NotNil(t, face.Distance)
	if *face.Distance > 0.05 {
		t.Errorf("distance = %v, want < 0.05", *face.Distance)
	}
	if diff := cmp.Diff([]float64{0, 0.05, 0.125, 0.3}, face.RelativeBBox); diff != "" {
		t.Errorf("relative bbox mismatch (-want +got):\n%s", diff)
	}

	want := []database.AttendanceStatus{
		{PersonID: "S1", Name: "Alice", Status: database.StatusPresent},
		{PersonID: "S2", Name: "Bob", Status: database.StatusAbsent},
	}
	if diff := cmp.Diff(want, rec.Statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if rec.PresentCount != 1 || rec.TotalCount != 2 {
		t.Errorf("counts = %d/%d, want 1/2", rec.PresentCount, rec.TotalCount)
	}
	if rec.Recognized != 1 || rec.Unknown != 0 {
		t.Errorf("recognized/unknown = %d/%d, want 1/0", rec.Recognized, rec.Unknown)
	}
	if f.ledger.SessionCount(groupID) != 0 {
		t.Error("Recognize must not persist a session")
	}
}

func TestRecognizeUnknownAndInvalidFaces(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	// stranger, ambiguous between S1 and S2, and a face with a bad descriptor
	f.det.set("crowd", vec(0, 0, 1), vec(0.5, 0.5), facematch.Descriptor{1, 2, 3})

	rec, err := f.svc.Recognize(context.Background(), groupID, Upload{Filename: "crowd.png", Data: []byte("crowd")})
	require.NoError(t, err)

	require.Len(t, rec.Faces, 3)
	for i, face := range rec.Faces {
		if face.Recognized || face.Name != UnknownName {
			t.Errorf("face %d = %+v, want unknown", i, face)
		}
	}
	if rec.Faces[2].Distance != nil {
		t.Errorf("invalid face distance = %v, want nil", *rec.Faces[2].Distance)
	}
	if rec.Unknown != 3 || rec.PresentCount != 0 {
		t.Errorf("unknown = %d present = %d, want 3 and 0", rec.Unknown, rec.PresentCount)
	}
}

func TestRecognizeErrors(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	ctx := context.Background()

	_, err := f.svc.Recognize(ctx, "nope", Upload{Filename: "x.jpg", Data: []byte("x")})
	if !errors.Is(err, database.ErrGroupNotFound) {
		t.Errorf("missing group: err = %v, want ErrGroupNotFound", err)
	}

	_, err = f.svc.Recognize(ctx, groupID, Upload{Filename: "x.gif", Data: []byte("x")})
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("gif: err = %v, want ErrUnsupportedImage", err)
	}

	boom := errors.New("detector down")
	f.det.fail("x", boom)
	_, err = f.svc.Recognize(ctx, groupID, Upload{Filename: "x.jpg", Data: []byte("x")})
	if !errors.Is(err, boom) {
		t.Errorf("detector failure: err = %v, want %v", err, boom)
	}
}

func TestRecognizeEmptyGallery(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	ctx := context.Background()
	g, err := f.svc.CreateClass(ctx, "Empty")
	require.NoError(t, err)
	_, err = f.svc.UpsertStudents(ctx, g.ID, []database.PersonInput{{PersonID: "S1", Name: "Alice"}})
	require.NoError(t, err)
	f.det.set("img", vec(1))

	rec, err := f.svc.Recognize(ctx, g.ID, Upload{Data: []byte("img")})
	require.NoError(t, err)
	require.Len(t, rec.Faces, 1)
	if rec.Faces[0].Distance != nil || rec.Faces[0].Recognized {
		t.Errorf("face = %+v, want unassigned without distance", rec.Faces[0])
	}
	if rec.TotalCount != 1 || rec.PresentCount != 0 {
		t.Errorf("counts = %d/%d, want 0/1", rec.PresentCount, rec.TotalCount)
	}
}

func TestAddPhotosCanonicalReference(t *testing.T) {
	tests := []struct {
		name    string
		batches [][]string
	}{
		{name: "b then a in one batch", batches: [][]string{{"b.jpg", "a.jpg"}}},
		{name: "a then b in one batch", batches: [][]string{{"a.jpg", "b.jpg"}}},
		{name: "b then a in two batches", batches: [][]string{{"b.jpg"}, {"a.jpg"}}},
		{name: "a then b in two batches", batches: [][]string{{"a.jpg"}, {"b.jpg"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.PolicyCanonical)
			ctx := context.Background()
			g, err := f.svc.CreateClass(ctx, "Class")
			require.NoError(t, err)
			_, err = f.svc.UpsertStudents(ctx, g.ID, []database.PersonInput{{PersonID: "S1", Name: "Alice"}})
			require.NoError(t, err)
			f.det.set("A", vec(1))
			f.det.set("B", vec(0, 1))

			content := map[string]string{"a.jpg": "A", "b.jpg": "B"}
			for _, batch := range tt.batches {
				uploads := make([]Upload, len(batch))
				for i, name := range batch {
					uploads[i] = Upload{Filename: name, Data: []byte(content[name])}
				}
				res, err := f.svc.AddPhotos(ctx, g.ID, "S1", uploads)
				require.NoError(t, err)
				if res.Added != len(batch) {
					t.Fatalf("added = %d, want %d", res.Added, len(batch))
				}
			}

			got, err := f.svc.GetClass(ctx, g.ID)
			require.NoError(t, err)
			p := got.Persons[0]
			if diff := cmp.Diff([]string{"S1_a.jpg"}, p.PhotoIDs); diff != "" {
				t.Errorf("photo ids mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]facematch.Descriptor{vec(1)}, p.Descriptors); diff != "" {
				t.Errorf("descriptors mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"S1_a.jpg"}, f.photos.PhotoIDs(g.ID)); diff != "" {
				t.Errorf("stored photos mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAddPhotosPolicyAllKeepsEveryPhoto(t *testing.T) {
	f := newFixture(t, config.PolicyAll)
	ctx := context.Background()
	g, err := f.svc.CreateClass(ctx, "Class")
	require.NoError(t, err)
	_, err = f.svc.UpsertStudents(ctx, g.ID, []database.PersonInput{{PersonID: "S1", Name: "Alice"}})
	require.NoError(t, err)
	f.det.set("A", vec(1))
	f.det.set("B", vec(0, 1))

	res, err := f.svc.AddPhotos(ctx, g.ID, "S1", []Upload{
		{Filename: "b.jpg", Data: []byte("B")},
		{Filename: "a.jpg", Data: []byte("A")},
	})
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"S1_b.jpg", "S1_a.jpg"}, res.Person.PhotoIDs); diff != "" {
		t.Errorf("photo ids mismatch (-want +got):\n%s", diff)
	}
	for _, o := range res.Outcomes {
		if !o.Accepted || !o.Retained {
			t.Errorf("outcome %+v, want accepted and retained", o)
		}
	}
}

func TestAddPhotosPartialFailure(t *testing.T) {
	f := newFixture(t, config.PolicyAll)
	ctx := context.Background()
	g, err := f.svc.CreateClass(ctx, "Class")
	require.NoError(t, err)
	_, err = f.svc.UpsertStudents(ctx, g.ID, []database.PersonInput{{PersonID: "S1", Name: "Alice"}})
	require.NoError(t, err)

	f.det.set("good", vec(1))
	f.det.set("empty")
	f.det.set("short", facematch.Descriptor{1, 2})

	res, err := f.svc.AddPhotos(ctx, g.ID, "S1", []Upload{
		{Filename: "good.jpg", Data: []byte("good")},
		{Filename: "empty.jpg", Data: []byte("empty")},
		{Filename: "notes.pdf", Data: []byte("good")},
		{Filename: "short.png", Data: []byte("short")},
	})
	require.NoError(t, err)

	if res.Added != 1 {
		t.Errorf("added = %d, want 1", res.Added)
	}
	wantErrs := []error{nil, ErrNoFaceDetected, ErrUnsupportedImage, ErrNoDescriptor}
	for i, want := range wantErrs {
		got := res.Outcomes[i].Err
		if want == nil {
			if got != nil || !res.Outcomes[i].Accepted {
				t.Errorf("outcome %d = %+v, want accepted", i, res.Outcomes[i])
			}
			continue
		}
		if !errors.Is(got, want) {
			t.Errorf("outcome %d err = %v, want %v", i, got, want)
		}
		if res.Outcomes[i].Error == "" || res.Outcomes[i].Accepted {
			t.Errorf("outcome %d = %+v, want rejected with message", i, res.Outcomes[i])
		}
	}
	if diff := cmp.Diff([]string{"S1_good.jpg"}, f.photos.PhotoIDs(g.ID)); diff != "" {
		t.Errorf("stored photos mismatch (-want +got):\n%s", diff)
	}
}

func TestAddPhotosBusyKeepsExistingReference(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	ctx := context.Background()
	f.det.set("alice2", vec(0.9, 0.1))

	unlock, err := f.roster.Locks().Lock(ctx, groupID)
	require.NoError(t, err)
	_, err = f.svc.AddPhotos(ctx, groupID, "S1", []Upload{{Filename: "alice.jpg", Data: []byte("alice2")}})
	unlock()
	if !errors.Is(err, database.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}

	data, err := f.photos.LoadPhoto(ctx, groupID, "S1_alice.jpg")
	require.NoError(t, err)
	if string(data) != "alice" {
		t.Errorf("stored photo = %q, want the original bytes", data)
	}
	if diff := cmp.Diff([]string{"S1_alice.jpg", "S2_bob.jpg"}, f.photos.PhotoIDs(groupID)); diff != "" {
		t.Errorf("stored photos mismatch (-want +got):\n%s", diff)
	}

	res, err := f.svc.RegenerateDescriptors(ctx, groupID, nil)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"S1_alice.jpg"}, res.Persons[0].Kept); diff != "" {
		t.Errorf("kept mismatch (-want +got):\n%s", diff)
	}
	g, err := f.svc.GetClass(ctx, groupID)
	require.NoError(t, err)
	if diff := cmp.Diff([]facematch.Descriptor{vec(1, 0)}, g.Persons[0].Descriptors); diff != "" {
		t.Errorf("S1 descriptors mismatch (-want +got):\n%s", diff)
	}
}

func TestAddPhotosReplacesSameFilename(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	ctx := context.Background()
	f.det.set("alice2", vec(0.9, 0.1))

	res, err := f.svc.AddPhotos(ctx, groupID, "S1", []Upload{{Filename: "alice.jpg", Data: []byte("alice2")}})
	require.NoError(t, err)
	if res.Added != 1 || !res.Outcomes[0].Retained {
		t.Errorf("outcome = %+v, want accepted and retained", res.Outcomes[0])
	}
	data, err := f.photos.LoadPhoto(ctx, groupID, "S1_alice.jpg")
	require.NoError(t, err)
	if string(data) != "alice2" {
		t.Errorf("stored photo = %q, want the new bytes", data)
	}
	if diff := cmp.Diff([]facematch.Descriptor{vec(0.9, 0.1)}, res.Person.Descriptors); diff != "" {
		t.Errorf("descriptors mismatch (-want +got):\n%s", diff)
	}
}

func TestAddPhotosClassDeletedDuringDetection(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	ctx := context.Background()
	f.det.set("late", vec(0.9, 0.1))
	f.det.onDetect = func(image string) {
		if image == "late" {
			require.NoError(t, f.svc.DeleteClass(ctx, groupID))
		}
	}

	_, err := f.svc.AddPhotos(ctx, groupID, "S1", []Upload{{Filename: "late.jpg", Data: []byte("late")}})
	if !errors.Is(err, database.ErrGroupNotFound) {
		t.Errorf("err = %v, want ErrGroupNotFound", err)
	}
	if ids := f.photos.PhotoIDs(groupID); len(ids) != 0 {
		t.Errorf("photos left after class delete: %v", ids)
	}
}

func TestAddPhotosMissingTargets(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	ctx := context.Background()
	up := []Upload{{Filename: "alice.jpg", Data: []byte("alice")}}

	_, err := f.svc.AddPhotos(ctx, "nope", "S1", up)
	if !errors.Is(err, database.ErrGroupNotFound) {
		t.Errorf("err = %v, want ErrGroupNotFound", err)
	}
	_, err = f.svc.AddPhotos(ctx, groupID, "S9", up)
	if !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("err = %v, want ErrPersonNotFound", err)
	}
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("ErrPersonNotFound must wrap ErrNotFound")
	}
}

func TestPhotoID(t *testing.T) {
	tests := []struct {
		person, filename, want string
	}{
		{"S1", "a.jpg", "S1_a.jpg"},
		{"S1", "../../etc/Fotka č. 1.JPG", "S1_Fotka_c._1.JPG"},
		{"st 7", "x.png", "st_7_x.png"},
	}
	for _, tt := range tests {
		if got := PhotoID(tt.person, tt.filename); got != tt.want {
			t.Errorf("PhotoID(%q, %q) = %q, want %q", tt.person, tt.filename, got, tt.want)
		}
	}

	got := PhotoID("S1", "###")
	if len(got) != len("S1_")+36 || got[:3] != "S1_" {
		t.Errorf("PhotoID fallback = %q, want S1_<uuid>", got)
	}
}

func TestUpsertStudents(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	ctx := context.Background()
	g, err := f.svc.CreateClass(ctx, "Class")
	require.NoError(t, err)

	rows := []database.PersonInput{
		{PersonID: " S1 ", Name: "Alice"},
		{PersonID: "", Name: "Nobody"},
		{PersonID: "S2", Name: "   "},
		{PersonID: "S3", Name: "Cyril"},
	}
	res, err := f.svc.UpsertStudents(ctx, g.ID, rows)
	require.NoError(t, err)
	if res.Updated != 2 {
		t.Errorf("updated = %d, want 2", res.Updated)
	}
	require.Len(t, res.Warnings, 2)
	for _, w := range res.Warnings {
		if !errors.Is(w.Err, ErrInvalidInput) {
			t.Errorf("warning err = %v, want ErrInvalidInput", w.Err)
		}
	}
	if res.Warnings[0].Index != 1 || res.Warnings[1].Index != 2 {
		t.Errorf("warning indexes = %d, %d; want 1, 2", res.Warnings[0].Index, res.Warnings[1].Index)
	}

	// idempotent, and renames in place
	_, err = f.svc.UpsertStudents(ctx, g.ID, []database.PersonInput{{PersonID: "S1", Name: "Alice B."}, {PersonID: "S3", Name: "Cyril"}})
	require.NoError(t, err)
	got, err := f.svc.GetClass(ctx, g.ID)
	require.NoError(t, err)
	names := []string{}
	for _, p := range got.Persons {
		names = append(names, p.PersonID+"="+p.Name)
	}
	if diff := cmp.Diff([]string{"S1=Alice B.", "S3=Cyril"}, names); diff != "" {
		t.Errorf("roster mismatch (-want +got):\n%s", diff)
	}

	_, err = f.svc.UpsertStudents(ctx, "nope", rows[:1])
	if !errors.Is(err, database.ErrGroupNotFound) {
		t.Errorf("err = %v, want ErrGroupNotFound", err)
	}
	_, err = f.svc.UpsertStudents(ctx, "nope", rows[1:2])
	if !errors.Is(err, database.ErrGroupNotFound) {
		t.Errorf("all-invalid rows: err = %v, want ErrGroupNotFound", err)
	}
}

func TestUpsertStudentsBusy(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	ctx := context.Background()
	g, err := f.svc.CreateClass(ctx, "Class")
	require.NoError(t, err)

	unlock, err := f.roster.Locks().Lock(ctx, g.ID)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.UpsertStudents(ctx, g.ID, []database.PersonInput{{PersonID: "S1", Name: "Alice"}})
	if !errors.Is(err, database.ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
}

func TestDeletePerson(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	ctx := context.Background()
	_, err := f.svc.SaveSession(ctx, groupID, nil, time.Time{})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeletePerson(ctx, groupID, "S1"))

	g, err := f.svc.GetClass(ctx, groupID)
	require.NoError(t, err)
	if len(g.Persons) != 1 || g.Persons[0].PersonID != "S2" {
		t.Errorf("persons = %+v, want only S2", g.Persons)
	}
	if diff := cmp.Diff([]string{"S2_bob.jpg"}, f.photos.PhotoIDs(groupID)); diff != "" {
		t.Errorf("stored photos mismatch (-want +got):\n%s", diff)
	}
	if f.ledger.SessionCount(groupID) != 1 {
		t.Error("sessions must survive person deletion")
	}

	err = f.svc.DeletePerson(ctx, groupID, "S1")
	if !errors.Is(err, database.ErrPersonNotFound) {
		t.Errorf("second delete: err = %v, want ErrPersonNotFound", err)
	}
}

func TestCreateAndDeleteClass(t *testing.T) {
	f := newFixture(t, config.PolicyCanonical)
	groupID := f.seed(t)
	ctx := context.Background()

	if groupID != "Class_5A" {
		t.Errorf("group id = %q, want Class_5A", groupID)
	}
	_, err := f.svc.CreateClass(ctx, "Class 5A ")
	if !errors.Is(err, database.ErrAlreadyExists) {
		t.Errorf("duplicate: err = %v, want ErrAlreadyExists", err)
	}

	_, err = f.svc.SaveSession(ctx, groupID, nil, time.Time{})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteClass(ctx, groupID))
	if _, err := f.svc.GetClass(ctx, groupID); !errors.Is(err, database.ErrGroupNotFound) {
		t.Errorf("get after delete: err = %v, want ErrGroupNotFound", err)
	}
	if ids := f.photos.PhotoIDs(groupID); len(ids) != 0 {
		t.Errorf("photos left after delete: %v", ids)
	}
	if f.ledger.SessionCount(groupID) != 0 {
		t.Error("sessions left after delete")
	}

	classes, err := f.svc.ListClasses(ctx)
	require.NoError(t, err)
	if len(classes) != 0 {
		t.Errorf("classes = %v, want none", classes)
	}
	if err := f.svc.DeleteClass(ctx, groupID); !errors.Is(err, database.ErrGroupNotFound) {
		t.Errorf("second delete: err = %v, want ErrGroupNotFound", err)
	}
}
