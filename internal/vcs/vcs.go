// internal/vcs/vcs.go
package vcs

import "context"

// Repo abstracts the version control operations the pipeline needs.
//
// The default implementation shells out to the git executable; tests
// substitute an in-memory fake. Every operation is individually failable
// and a failure is never partial success.
type Repo interface {
	Root() string

	IsClean(ctx context.Context) (bool, error)
	CurrentBranch(ctx context.Context) (string, error)
	Head(ctx context.Context) (string, error)
	RefExists(ctx context.Context, ref string) (bool, error)

	Checkout(ctx context.Context, ref string) error
	CreateBranch(ctx context.Context, name, ref string) error
	DeleteBranch(ctx context.Context, name string) error
	ResetHard(ctx context.Context, ref string) error
	Clean(ctx context.Context) error

	CherryPick(ctx context.Context, ref string) error
	AbortCherryPick(ctx context.Context) error

	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) (string, error)
	Tag(ctx context.Context, name, message string) error
	DeleteTag(ctx context.Context, name string) error
	Push(ctx context.Context, remote string, refs ...string) error
	ForcePush(ctx context.Context, remote string, refs ...string) error
	DeleteRemote(ctx context.Context, remote string, refs ...string) error

	DiffAgainstRef(ctx context.Context, ref string) ([]byte, error)
}
