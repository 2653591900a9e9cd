package provider

import "context"

// Optional collaborator capability interfaces.
//
// These interfaces are used for feature detection (type assertions). The core
// collaborator interfaces remain intentionally small.

// ImageTagger can attach tags to an image.
//
// Used to record the source image and stack on produced images, the only
// patch history kept.
type ImageTagger interface {
	TagImage(ctx context.Context, imageID string, tags map[string]string) error
}

// InvocationCanceller can cancel an in-flight command invocation.
//
// Used when a poll is abandoned because the caller's context was cancelled.
type InvocationCanceller interface {
	CancelInvocation(ctx context.Context, invocationID, instanceID string) error
}
