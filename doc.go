// Package easysftp provides a small session type for working with files on an
// SFTP server.
//
// A Session owns one authenticated connection and offers four operations:
// listing a directory, downloading a file, uploading a file and renaming a
// remote file. Every operation returns an *Error whose Kind separates
// authentication, not-found, permission, timeout and I/O failures, and every
// success or failure is reported to the session's zap logger.
//
// # Basic Usage
//
//	session, err := easysftp.Dial(ctx, easysftp.Config{
//		Host:     "sftp.example.com",
//		User:     "reports",
//		Password: os.Getenv("SFTP_PASSWORD"),
//	}, easysftp.WithLogger(logger))
//	if err != nil {
//		if easysftp.IsAuth(err) {
//			log.Fatal("bad credentials")
//		}
//		log.Fatal(err)
//	}
//	defer session.Close()
//
//	names, err := session.ListFiles(ctx, "/outbox/")
//	err = session.DownloadFile(ctx, "/outbox/report.csv", "/tmp")
//	err = session.UploadFile(ctx, "/tmp/ack.csv", "/inbox")
//	err = session.MoveFile(ctx, "/outbox/report.csv", "/outbox/archive/report.csv")
//
// # Working Directory
//
// The session starts in the directory the server reports for ".", usually
// the user's home. Relative remote paths resolve against it. ListFiles,
// DownloadFile and UploadFile enter a directory for the duration of the call
// and always restore the previous one before returning.
//
// # Authentication
//
// Password, private key (optionally encrypted), SSH certificate and ssh-agent
// authentication are supported, as is connecting through a bastion host. When
// Config.AuthMethod is empty the method is inferred from the credentials set.
package easysftp
