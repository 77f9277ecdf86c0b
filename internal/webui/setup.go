// Copyright 2023 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webui

import (
	"bytes"
	"io"
	"net/http"
)

// setupHandler renders the first-run page while no display is configured
// yet. The form posts to /storedisplay like the regular display management
// does, so there is no separate code path to keep working.
func (ui *UI) setupHandler(w http.ResponseWriter, r *http.Request) {
	xsrftoken, err := ui.xsrfToken(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := ui.tmpl.ExecuteTemplate(&buf, "Setup.html.tmpl", map[string]interface{}{
		"xsrftoken":  xsrftoken,
		"listenurls": ui.listenURLs,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	io.Copy(w, &buf)
}
