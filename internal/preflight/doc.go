// Package preflight runs the environment checks behind `mealrag doctor`:
// host resources, the corpus file, the persisted dense collection and the
// embedding and reranking services.
//
//	checker := preflight.New(preflight.WithVerbose(true))
//	results := checker.RunAll(ctx, target)
//	checker.PrintResults(results)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to build
//	}
package preflight
