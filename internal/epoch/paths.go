package epoch

import "strings"

// FileID resolves a slash-separated path (relative to the epoch's root) to
// the FileId currently visible there, walking one ChildRef per component.
func (e *Epoch) FileID(path string) (FileId, bool) {
	id := RootFileId()
	for _, name := range splitPath(path) {
		next, ok := e.childID(id, name)
		if !ok {
			return FileId{}, false
		}
		id = next
	}
	return id, true
}

func (e *Epoch) childID(parentID FileId, name string) (FileId, bool) {
	for _, ref := range e.childRefs.visibleFor(parentID) {
		if ref.Name == name {
			return ref.ChildID, true
		}
	}
	return FileId{}, false
}

// Path reconstructs the current path to fileID by walking newestVisibleFor
// ParentRefs up to the root. The root's path is "" (with true). A removed
// file resolves to the path of its last placement; false is returned only
// when fileID, or one of its ancestors, has never been placed anywhere.
func (e *Epoch) Path(fileID FileId) (string, bool) {
	if fileID.IsRoot() {
		return "", true
	}
	var names []string
	cur := fileID
	for {
		ref, ok := e.parentRefs.newestVisibleFor(cur)
		if !ok {
			return "", false
		}
		names = append(names, ref.Parent.Name)
		if ref.Parent.FileID.IsRoot() {
			break
		}
		cur = ref.Parent.FileID
	}
	reverse(names)
	return strings.Join(names, "/"), true
}

// BasePath reconstructs the path fileID had in the base commit, walking the
// oldest ParentRef at each step. Returns false unless fileID and every one
// of its base-time ancestors are Base FileIds: a file created after the
// base has no meaningful base path. Later moves do not affect the result.
func (e *Epoch) BasePath(fileID FileId) (string, bool) {
	if fileID.IsRoot() {
		return "", true
	}
	if fileID.Kind != KindBase {
		return "", false
	}
	var names []string
	cur := fileID
	for {
		ref, ok := e.parentRefs.oldestFor(cur)
		if !ok || ref.Parent == nil {
			return "", false
		}
		names = append(names, ref.Parent.Name)
		if ref.Parent.FileID.IsRoot() {
			break
		}
		if ref.Parent.FileID.Kind != KindBase {
			return "", false
		}
		cur = ref.Parent.FileID
	}
	reverse(names)
	return strings.Join(names, "/"), true
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
