// Package storage keeps downloaded media files.
//
// The Manager writes each file atomically through a temporary file and a
// rename, and remembers which names already exist so a resumed run does
// not download the same image twice. Files already in the directory when
// the Manager starts count as downloaded.
//
// Usage:
//
//	manager, err := storage.NewManager("harvest/media")
//	if err != nil {
//	    return err
//	}
//
//	name := storage.MediaName("acme", "id:1843", 0, imageURL)
//	if !manager.IsDownloaded(name) {
//	    err = manager.Save(bytes.NewReader(data), name)
//	}
package storage
