/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/blacktop/multipost/internal/poster"
	"github.com/blacktop/multipost/internal/website"
)

func dispatch(ctx context.Context, a *app, accounts []website.Account, sub poster.Submission, cancel *website.CancelToken, out io.Writer, simulate bool) error {
	if simulate {
		var errs []poster.Result
		for _, acct := range accounts {
			w, err := a.poster.Manager().Instance(ctx, acct)
			if err != nil {
				errs = append(errs, poster.Result{Account: acct, Response: website.WithException(err)})
				continue
			}
			result := a.poster.Validate(ctx, w, sub)
			name := label(w.WebsiteBase().Account())
			printValidation(out, name, result)
			if result.Valid() {
				fmt.Fprintf(out, "[dry-run] would post %s to %s\n", sub.Kind, name)
				continue
			}
			errs = append(errs, poster.Result{
				Account:  acct,
				Response: website.WithException(&website.ValidationFailedError{Website: acct.Website, Result: result}),
			})
		}
		return poster.Errors(errs)
	}

	for _, acct := range accounts {
		fmt.Fprintf(out, "posting to %s...\n", label(acct))
	}
	results := a.poster.Dispatch(ctx, accounts, sub, cancel)
	for _, r := range results {
		name := label(r.Account)
		printValidation(out, name, r.Validation)
		switch {
		case r.Response.Cancelled():
			fmt.Fprintf(out, "cancelled %s\n", name)
		case r.Response.Failed():
			fmt.Fprintf(out, "failed %s: %v\n", name, r.Response.Exception)
		case r.Response.SourceURL != "":
			fmt.Fprintf(out, "posted to %s: %s\n", name, r.Response.SourceURL)
		default:
			fmt.Fprintf(out, "posted to %s\n", name)
		}
	}
	return poster.Errors(results)
}

func printValidation(out io.Writer, name string, result website.ValidationResult) {
	for _, m := range result.Errors {
		fmt.Fprintf(out, "  %s error: %s\n", name, m)
	}
	for _, m := range result.Warnings {
		fmt.Fprintf(out, "  %s warning: %s\n", name, m)
	}
}

func label(acct website.Account) string {
	if acct.Name != "" {
		return fmt.Sprintf("%s/%s", acct.Website, acct.Name)
	}
	return fmt.Sprintf("%s/%s", acct.Website, acct.ID)
}
