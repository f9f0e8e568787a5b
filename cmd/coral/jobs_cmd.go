package main

import (
	"flag"
	"fmt"
	"sort"

	"github.com/coralrun/coral/internal/backend/jobsim"
)

// cmdJobs lists RunRecords tracked by the jobsim backend. Other
// backends have no durable job list of their own (spec.md's
// Non-goals exclude a durable job queue beyond what jobsim models for
// illustration).
func cmdJobs(args []string) {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	profilePath := fs.String("profile", "", "path to config.toml")
	profileName := fs.String("profile-name", "", "profile table to select from config.toml (default: CORAL_PROFILE or \"default\")")
	fs.Parse(args)

	profile := loadProfile(*profilePath, *profileName)
	if profile.Provider != "jobsim" {
		fatal(fmt.Errorf("jobs is only meaningful for the jobsim provider, profile uses %q", profile.Provider))
	}
	d, err := jobsim.New(jobsim.Options{StateDir: stringField(profile.Data, "state_dir")})
	if err != nil {
		fatal(err)
	}

	records := d.Runs()
	refs := make([]string, 0, len(records))
	for ref := range records {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		rec := records[ref]
		fmt.Printf("%s\trun=%s\tcall=%s\tstate=%s\n", ref, rec.RunID, rec.CallID, rec.State)
	}
}
