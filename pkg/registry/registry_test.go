package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeRegistry records the replication steps applied to it.
type fakeRegistry struct {
	region   string
	authErr  error
	tagErr   error
	pushErr  error
	steps    []string
	tagged   string
	pushedTo string
}

func (f *fakeRegistry) Region() string      { return f.region }
func (f *fakeRegistry) RegistryURL() string { return f.region + ".registry.example" }
func (f *fakeRegistry) ImageURI() string    { return f.RegistryURL() + "/app:latest" }

func (f *fakeRegistry) Authenticate(ctx context.Context) error {
	f.steps = append(f.steps, "auth")
	return f.authErr
}

func (f *fakeRegistry) TagImage(ctx context.Context, sourceImage string) (string, error) {
	f.steps = append(f.steps, "tag")
	if f.tagErr != nil {
		return "", f.tagErr
	}
	f.tagged = f.ImageURI()
	return f.tagged, nil
}

func (f *fakeRegistry) PushImage(ctx context.Context, taggedImage string) error {
	f.steps = append(f.steps, "push")
	f.pushedTo = taggedImage
	return f.pushErr
}

func TestReplicatePushesToEveryRegion(t *testing.T) {
	regions := []*fakeRegistry{
		{region: "us-east-1"},
		{region: "eu-west-1"},
		{region: "ap-south-1"},
	}

	r := NewReplicator("app:latest")
	for _, reg := range regions {
		r.AddRegistry(reg)
	}

	uris, err := r.Replicate(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(uris) != 3 {
		t.Fatalf("Expected 3 regional URIs, got %d", len(uris))
	}

	for _, reg := range regions {
		want := reg.ImageURI()
		if uris[reg.region] != want {
			t.Errorf("Region %s: expected URI %s, got %s", reg.region, want, uris[reg.region])
		}
		if got := strings.Join(reg.steps, ","); got != "auth,tag,push" {
			t.Errorf("Region %s: expected steps auth,tag,push, got %s", reg.region, got)
		}
		if reg.pushedTo != reg.tagged {
			t.Errorf("Region %s: pushed %s but tagged %s", reg.region, reg.pushedTo, reg.tagged)
		}
	}
}

func TestReplicateStopsOnAuthFailure(t *testing.T) {
	failing := &fakeRegistry{region: "eu-west-1", authErr: errors.New("login denied")}
	later := &fakeRegistry{region: "ap-south-1"}

	r := NewReplicator("app:latest")
	r.AddRegistry(failing)
	r.AddRegistry(later)

	_, err := r.Replicate(context.Background())
	if err == nil {
		t.Fatal("Expected error from failing registry")
	}
	if !strings.Contains(err.Error(), "eu-west-1") {
		t.Errorf("Expected error to name the failing region, got: %v", err)
	}
	if len(later.steps) != 0 {
		t.Errorf("Expected later registries to be skipped, got steps %v", later.steps)
	}
}

func TestReplicateTagFailure(t *testing.T) {
	reg := &fakeRegistry{region: "us-east-1", tagErr: errors.New("no such image")}

	r := NewReplicator("app:latest")
	r.AddRegistry(reg)

	if _, err := r.Replicate(context.Background()); err == nil {
		t.Fatal("Expected error when tagging fails")
	}
	if got := strings.Join(reg.steps, ","); got != "auth,tag" {
		t.Errorf("Expected replication to stop after tag, got steps %s", got)
	}
}
