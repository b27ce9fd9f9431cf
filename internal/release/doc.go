// Package release fetches the latest dictionary release from one of the
// hosting services that publish it.
//
// This package handles:
//   - Querying the GitHub releases API
//   - Querying the Gitee release page JSON and normalizing it
//   - Rendering the changelog for the terminal
//
// Both sources produce the same Release value. Versions are opaque tags and
// are only ever compared for equality.
//
// Example usage:
//
//	fetcher, err := release.NewFetcher(settings.ReleaseSource, release.WithRepo(repo))
//	if err != nil {
//	    // handle error
//	}
//	rel, err := fetcher.FetchLatest(ctx)
package release
