package index

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/spinplugins/plugin-release/pkg/registry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore stores releases as <stage>-plugins/<name>/releases/<channel>.
type Firestore struct {
	db    *firestore.Client
	stage string
}

func NewFirestore(db *firestore.Client, stage string) *Firestore {
	return &Firestore{db: db, stage: stage}
}

type fsPluginData struct {
	Name          string
	LatestChannel string `firestore:",omitempty"`
}

func (f *Firestore) getDocRef(name string) *firestore.DocumentRef {
	return f.db.Collection(f.stage + "-plugins").Doc(name)
}

func (f *Firestore) getReleasesColRef(name string) *firestore.CollectionRef {
	return f.getDocRef(name).Collection("releases")
}

func (f *Firestore) SaveRelease(ctx context.Context, release *registry.Release) error {
	_, err := f.getReleasesColRef(release.Name).Doc(release.Channel).Set(ctx, release)
	if err != nil {
		return fmt.Errorf("failed to save release: %w", err)
	}
	if release.IsCanary() || release.Prerelease {
		_, err = f.getDocRef(release.Name).Set(ctx, map[string]interface{}{"Name": release.Name}, firestore.MergeAll)
		return err
	}
	releases, err := f.ListReleases(ctx, release.Name)
	if err != nil {
		return err
	}
	plugin := &fsPluginData{Name: release.Name}
	if latest := releases.Latest(); latest != nil {
		plugin.LatestChannel = latest.Channel
	}
	_, err = f.getDocRef(release.Name).Set(ctx, plugin)
	return err
}

func (f *Firestore) GetRelease(ctx context.Context, name, channel string) (*registry.Release, error) {
	res, err := f.getReleasesColRef(name).Doc(channel).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, name, channel)
	}
	if err != nil {
		return nil, err
	}
	var release registry.Release
	if dErr := res.DataTo(&release); dErr != nil {
		return nil, dErr
	}
	release.UpdatedAt = res.UpdateTime
	return &release, nil
}

func (f *Firestore) ListReleases(ctx context.Context, name string) (registry.Releases, error) {
	docs, err := f.getReleasesColRef(name).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	ret := make(registry.Releases, 0, len(docs))
	for _, doc := range docs {
		var release registry.Release
		if dErr := doc.DataTo(&release); dErr != nil {
			return nil, dErr
		}
		release.UpdatedAt = doc.UpdateTime
		ret = append(ret, &release)
	}
	return ret, nil
}
